package service

import (
	"testing"
	"time"

	"github.com/queueflow/backend/internal/models"
)

func TestTransitionMatrix(t *testing.T) {
	legal := map[[2]string]bool{
		{models.StatusWaiting, models.StatusConfirmed}:   true,
		{models.StatusWaiting, models.StatusServing}:     true,
		{models.StatusWaiting, models.StatusCancelled}:   true,
		{models.StatusWaiting, models.StatusNoShow}:      true,
		{models.StatusConfirmed, models.StatusServing}:   true,
		{models.StatusConfirmed, models.StatusCancelled}: true,
		{models.StatusServing, models.StatusCompleted}:   true,
		{models.StatusServing, models.StatusCancelled}:   true,
	}

	all := []string{
		models.StatusWaiting, models.StatusConfirmed, models.StatusServing,
		models.StatusCompleted, models.StatusCancelled, models.StatusNoShow,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]string{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, from := range []string{models.StatusCompleted, models.StatusCancelled, models.StatusNoShow} {
		if len(transitions[from]) != 0 {
			t.Fatalf("expected %s to be terminal", from)
		}
	}
}

func TestNoShowOnlyFromWaiting(t *testing.T) {
	if !CanTransition(models.StatusWaiting, models.StatusNoShow) {
		t.Fatal("expected WAITING -> NO_SHOW to be legal")
	}
	for _, from := range []string{models.StatusConfirmed, models.StatusServing, models.StatusCompleted} {
		if CanTransition(from, models.StatusNoShow) {
			t.Fatalf("expected %s -> NO_SHOW to be illegal", from)
		}
	}
}

func TestActualWaitMinutes(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	called := created.Add(35 * time.Minute)
	ticket := models.Ticket{CreatedAt: created, CalledAt: &called}

	got := actualWaitMinutes(ticket)
	if got == nil || *got != 35 {
		t.Fatalf("expected 35 minutes, got %v", got)
	}

	if actualWaitMinutes(models.Ticket{CreatedAt: created}) != nil {
		t.Fatal("expected nil wait for never-called ticket")
	}
}
