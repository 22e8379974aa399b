package events_test

import (
	"fmt"
	"testing"

	"github.com/ardanlabs/btcnode/foundation/events"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Events(t *testing.T) {
	t.Log("Given the need to fan out node events to subscribers.")
	{
		evts := events.New()

		a := evts.Acquire("a")
		b := evts.Acquire("b")

		if again := evts.Acquire("a"); again != a {
			t.Fatalf("\t%s\tShould return the same channel for the same id.", failed)
		}
		t.Logf("\t%s\tShould return the same channel for the same id.", success)

		evts.Send(`viewer: head: {"height":2}`)

		for _, ch := range []<-chan string{a, b} {
			if msg := <-ch; msg != `viewer: head: {"height":2}` {
				t.Fatalf("\t%s\tShould deliver the event to every receiver, got %q", failed, msg)
			}
		}
		t.Logf("\t%s\tShould deliver the event to every receiver.", success)

		if err := evts.Release("a"); err != nil {
			t.Fatalf("\t%s\tShould release a receiver: %v", failed, err)
		}
		if _, open := <-a; open {
			t.Fatalf("\t%s\tShould close a released channel.", failed)
		}
		if err := evts.Release("a"); err == nil {
			t.Fatalf("\t%s\tShould fail to release an unknown id.", failed)
		}
		t.Logf("\t%s\tShould release a receiver once.", success)

		// A slow receiver loses events instead of blocking the sender.
		for i := 0; i < 150; i++ {
			evts.Send(fmt.Sprint(i))
		}
		if n := len(b); n != 100 {
			t.Fatalf("\t%s\tShould drop events past the buffer, got %d", failed, n)
		}
		t.Logf("\t%s\tShould drop events past the buffer.", success)

		evts.Shutdown()
		if evts.Len() != 0 {
			t.Fatalf("\t%s\tShould remove every receiver on shutdown.", failed)
		}
		t.Logf("\t%s\tShould remove every receiver on shutdown.", success)
	}
}
