package main

import (
	"errors"
	"testing"

	"cryptoingest/internal/ingest"
	"cryptoingest/internal/writer"
)

func TestOnceExitCode(t *testing.T) {
	tests := []struct {
		name string
		res  ingest.Result
		want int
	}{
		{name: "done", res: ingest.Result{State: ingest.StateDone}, want: 0},
		{
			name: "dead-lettered and recorded",
			res:  ingest.Result{State: ingest.StateDeadLettered, DeadLetter: &writer.Outcome{Written: true}},
			want: 0,
		},
		{
			name: "dead-letter write lost",
			res:  ingest.Result{State: ingest.StateDeadLettered, DeadLetter: &writer.Outcome{Err: errors.New("store down")}},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := onceExitCode(tt.res); got != tt.want {
				t.Errorf("onceExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
