package store

import (
	"context"
	"fmt"
	"time"
)

type seedTodo struct {
	description string
	offsetDays  int
	completed   bool
}

var seedTodos = []seedTodo{
	{"Read the Twilio Media Streams message reference", -7, false},
	{"Set up a demo phone number", -5, true},
	{"Figure out how to turn 24kHz PCM into 8kHz mu-law", -3, true},
	{"Write up notes on bridging calls to the realtime API", 0, true},
	{"Deploy the bridge behind a public wss endpoint", 2, false},
	{"Renew the demo domain", 9, false},
}

// Seed inserts a handful of example todos spread around today. It is meant
// for fresh databases and does not check for duplicates.
func (s *Todos) Seed(ctx context.Context, today time.Time) (int, error) {
	today = Day(today)
	for i, st := range seedTodos {
		deadline := today.AddDate(0, 0, st.offsetDays)
		t, err := s.Create(ctx, st.description, deadline)
		if err != nil {
			return i, fmt.Errorf("seeding %q: %w", st.description, err)
		}
		if st.completed {
			if err := s.Complete(ctx, t.ID, deadline); err != nil {
				return i, fmt.Errorf("seeding %q: %w", st.description, err)
			}
		}
	}
	return len(seedTodos), nil
}
