package queue_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/watchq/internal/adapters/mq/queue"
	"github.com/okian/watchq/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// fakeSource records subscriptions and closes and keeps delivering after
// close, so tests can check that late events are discarded.
type fakeSource struct {
	mu         sync.Mutex
	onEvent    func(string)
	onError    func(error)
	subscribes int
	closes     int
	err        error
}

func (f *fakeSource) Subscribe(onEvent func(string), onError func(error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.err != nil {
		return nil, f.err
	}
	f.onEvent, f.onError = onEvent, onError
	return func() {
		f.mu.Lock()
		f.closes++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) emit(events ...string) {
	f.mu.Lock()
	cb := f.onEvent
	f.mu.Unlock()
	for _, e := range events {
		cb(e)
	}
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	cb(err)
}

func (f *fakeSource) counts() (subscribes, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.closes
}

type pullResult struct {
	ev  string
	ok  bool
	err error
}

func pullAsync(a *queue.Adapter[string]) <-chan pullResult {
	ch := make(chan pullResult, 1)
	go func() {
		ev, ok, err := a.Pull(context.Background())
		ch <- pullResult{ev: ev, ok: ok, err: err}
	}()
	return ch
}

func waitForWaiters(t *testing.T, a *queue.Adapter[string], n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for a.Waiting() != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d parked pulls, have %d", n, a.Waiting())
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(ch <-chan pullResult) pullResult {
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		return pullResult{err: errors.New("timed out waiting for pull")}
	}
}

func TestAdapter_Ordering(t *testing.T) {
	Convey("Given an active adapter", t, func() {
		src := &fakeSource{}
		a := queue.New[string](context.Background(), src)
		defer a.Stop()
		ctx := context.Background()

		Convey("When events take both the direct and the buffered path", func() {
			parked := pullAsync(a)
			waitForWaiters(t, a, 1)
			src.emit("A")
			first := receive(parked)

			src.emit("B", "C")
			b, okB, errB := a.Pull(ctx)
			c, okC, errC := a.Pull(ctx)

			Convey("Then they are pulled in delivery order", func() {
				So(first.err, ShouldBeNil)
				So(first.ok, ShouldBeTrue)
				So(first.ev, ShouldEqual, "A")
				So(errB, ShouldBeNil)
				So(errC, ShouldBeNil)
				So(okB && okC, ShouldBeTrue)
				So([]string{b, c}, ShouldResemble, []string{"B", "C"})
				So(a.Len(), ShouldEqual, 0)
				So(a.Waiting(), ShouldEqual, 0)
			})
		})

		Convey("When several pulls are parked", func() {
			r1 := pullAsync(a)
			waitForWaiters(t, a, 1)
			r2 := pullAsync(a)
			waitForWaiters(t, a, 2)
			src.emit("X", "Y")

			Convey("Then they are served in the order they parked", func() {
				So(receive(r1).ev, ShouldEqual, "X")
				So(receive(r2).ev, ShouldEqual, "Y")
			})
		})
	})
}

func TestAdapter_OverflowIgnore(t *testing.T) {
	Convey("Given maxQueue=2 with the ignore policy", t, func() {
		src := &fakeSource{}
		var infos []queue.OverflowInfo
		a := queue.New[string](context.Background(), src,
			queue.WithMaxQueue(2),
			queue.WithOverflowPolicy(queue.OverflowIgnore),
			queue.WithName("ignore-test"),
			queue.WithOverflowHandler(func(info queue.OverflowInfo) { infos = append(infos, info) }),
		)
		defer a.Stop()

		Convey("When A, B, C, D arrive with no consumer", func() {
			src.emit("A", "B", "C", "D")

			Convey("Then the newest two are kept and pulled in order", func() {
				So(a.Len(), ShouldEqual, 2)
				So(a.Dropped(), ShouldEqual, 2)
				So(a.State(), ShouldEqual, queue.StateActive)

				first, ok, err := a.Pull(context.Background())
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(first, ShouldEqual, "C")

				second, ok, err := a.Pull(context.Background())
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(second, ShouldEqual, "D")
				So(a.Len(), ShouldEqual, 0)
			})

			Convey("And the overflow handler sees each drop", func() {
				So(len(infos), ShouldEqual, 2)
				So(infos[0].Adapter, ShouldEqual, "ignore-test")
				So(infos[0].MaxQueue, ShouldEqual, 2)
				So(infos[1].Dropped, ShouldEqual, 2)
			})
		})
	})
}

func TestAdapter_OverflowWarningThrottle(t *testing.T) {
	Convey("Given maxQueue=1 logging to a buffer", t, func() {
		var out bytes.Buffer
		So(logger.InitWithWriter(&out), ShouldBeNil)
		defer func() { _ = logger.InitWithWriter(os.Stdout) }()

		src := &fakeSource{}
		var handled int
		a := queue.New[string](context.Background(), src,
			queue.WithMaxQueue(1),
			queue.WithOverflowHandler(func(queue.OverflowInfo) { handled++ }),
		)
		defer a.Stop()

		Convey("When 2050 events overflow the buffer", func() {
			for i := 0; i < 2051; i++ {
				src.emit("e")
			}

			Convey("Then the handler sees every drop but the warning is logged on drops 1, 1025 and 2049", func() {
				So(a.Dropped(), ShouldEqual, 2050)
				So(handled, ShouldEqual, 2050)
				So(strings.Count(out.String(), "dropping oldest event"), ShouldEqual, 3)
			})
		})
	})
}

func TestAdapter_BackpressureBound(t *testing.T) {
	const maxQueue = 8
	src := &fakeSource{}
	a := queue.New[string](context.Background(), src, queue.WithMaxQueue(maxQueue))
	defer a.Stop()

	var arrived []string
	for i := 0; i < 100; i++ {
		ev := string(rune('a'+i%26)) + string(rune('0'+i/26))
		arrived = append(arrived, ev)
		src.emit(ev)
		if a.Len() > maxQueue {
			t.Fatalf("buffer grew to %d, bound is %d", a.Len(), maxQueue)
		}
	}

	want := arrived[len(arrived)-maxQueue:]
	for i, w := range want {
		got, ok, err := a.Pull(context.Background())
		if err != nil || !ok {
			t.Fatalf("pull %d: ok=%v err=%v", i, ok, err)
		}
		if got != w {
			t.Fatalf("pull %d: expected %q, got %q", i, w, got)
		}
	}
	if a.Dropped() != int64(len(arrived)-maxQueue) {
		t.Fatalf("expected %d drops, got %d", len(arrived)-maxQueue, a.Dropped())
	}
}

func TestAdapter_OverflowThrow(t *testing.T) {
	Convey("Given maxQueue=1 with the throw policy", t, func() {
		src := &fakeSource{}
		a := queue.New[string](context.Background(), src,
			queue.WithMaxQueue(1),
			queue.WithOverflowPolicy(queue.OverflowThrow),
		)

		Convey("When A then B arrive with no consumer", func() {
			src.emit("A", "B")

			Convey("Then the adapter terminates with an OverflowError", func() {
				So(a.State(), ShouldEqual, queue.StateTerminated)
				So(a.Reason(), ShouldEqual, queue.ReasonErrored)

				var overflow *queue.OverflowError
				So(errors.As(a.Err(), &overflow), ShouldBeTrue)
				So(overflow.MaxQueue, ShouldEqual, 1)
				So(errors.Is(a.Err(), queue.ErrOverflow), ShouldBeTrue)
				So(a.Err().Error(), ShouldEqual, "watch queue overflow: more than 1 events queued")
			})

			Convey("And every later pull rejects with the same error", func() {
				for i := 0; i < 2; i++ {
					_, ok, err := a.Pull(context.Background())
					So(ok, ShouldBeFalse)
					So(err, ShouldEqual, a.Err())
				}
			})

			Convey("And the subscription is closed exactly once", func() {
				src.emit("C")
				a.Stop()
				_, closes := src.counts()
				So(closes, ShouldEqual, 1)
				So(a.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestAdapter_Cancellation(t *testing.T) {
	Convey("Given an adapter with a cancellable context", t, func() {
		src := &fakeSource{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		a := queue.New[string](ctx, src)

		Convey("When three pulls are parked and the context is cancelled", func() {
			results := []<-chan pullResult{pullAsync(a)}
			waitForWaiters(t, a, 1)
			results = append(results, pullAsync(a))
			waitForWaiters(t, a, 2)
			results = append(results, pullAsync(a))
			waitForWaiters(t, a, 3)

			cancel()

			Convey("Then all of them resolve as done, not as errors", func() {
				for _, ch := range results {
					r := receive(ch)
					So(r.err, ShouldBeNil)
					So(r.ok, ShouldBeFalse)
				}
				<-a.Done()
				So(a.Reason(), ShouldEqual, queue.ReasonCancelled)
				So(a.Err(), ShouldBeNil)
			})

			Convey("And events arriving afterwards are never delivered", func() {
				<-a.Done()
				src.emit("late")
				_, ok, err := a.Pull(context.Background())
				So(ok, ShouldBeFalse)
				So(err, ShouldBeNil)
				So(a.Len(), ShouldEqual, 0)

				_, closes := src.counts()
				So(closes, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a context that is already cancelled", t, func() {
		src := &fakeSource{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		a := queue.New[string](ctx, src)

		Convey("Then the source is never subscribed", func() {
			subscribes, closes := src.counts()
			So(subscribes, ShouldEqual, 0)
			So(closes, ShouldEqual, 0)
			So(a.Reason(), ShouldEqual, queue.ReasonCancelled)

			_, ok, err := a.Pull(context.Background())
			So(ok, ShouldBeFalse)
			So(err, ShouldBeNil)
		})
	})
}

func TestAdapter_CancelledThroughOwnContext(t *testing.T) {
	Convey("Given consumers ranging over the adapter with its own cancellation context", t, func() {
		const rounds = 500
		var failures, wrongReason int

		for i := 0; i < rounds; i++ {
			src := &fakeSource{}
			ctx, cancel := context.WithCancel(context.Background())
			a := queue.New[string](ctx, src)

			go cancel()
			for _, err := range a.All(ctx) {
				if err != nil {
					failures++
				}
			}
			<-a.Done()
			if a.Reason() != queue.ReasonCancelled {
				wrongReason++
			}
			cancel()
		}

		Convey("Then every sequence ends as done and the adapter is cancelled", func() {
			So(failures, ShouldEqual, 0)
			So(wrongReason, ShouldEqual, 0)
		})
	})

	Convey("Given a parked pull waiting on the adapter's own context", t, func() {
		src := &fakeSource{}
		ctx, cancel := context.WithCancel(context.Background())
		a := queue.New[string](ctx, src)

		ch := make(chan pullResult, 1)
		go func() {
			ev, ok, err := a.Pull(ctx)
			ch <- pullResult{ev: ev, ok: ok, err: err}
		}()
		waitForWaiters(t, a, 1)
		cancel()

		Convey("Then it resolves as done rather than with the context error", func() {
			r := receive(ch)
			So(r.err, ShouldBeNil)
			So(r.ok, ShouldBeFalse)
			So(a.Reason(), ShouldEqual, queue.ReasonCancelled)

			_, closes := src.counts()
			So(closes, ShouldEqual, 1)
		})
	})
}

func TestAdapter_SubscriptionFailure(t *testing.T) {
	Convey("Given a source that rejects the subscription", t, func() {
		cause := errors.New("no such file or directory")
		src := &fakeSource{err: cause}
		a := queue.New[string](context.Background(), src)

		Convey("Then the adapter never becomes active", func() {
			So(a.State(), ShouldEqual, queue.StateTerminated)
			So(a.Reason(), ShouldEqual, queue.ReasonErrored)
		})

		Convey("And the first and later pulls report the failure", func() {
			for i := 0; i < 2; i++ {
				_, ok, err := a.Pull(context.Background())
				So(ok, ShouldBeFalse)
				So(errors.Is(err, queue.ErrSubscription), ShouldBeTrue)
				So(errors.Is(err, cause), ShouldBeTrue)
			}
		})
	})

	Convey("Given a source that fails from inside Subscribe", t, func() {
		var closes int
		src := queue.SourceFunc[string](func(_ func(string), onError func(error)) (func(), error) {
			onError(errors.New("gone"))
			return func() { closes++ }, nil
		})
		a := queue.New[string](context.Background(), src)

		Convey("Then the subscription is still closed exactly once", func() {
			a.Stop()
			So(closes, ShouldEqual, 1)
			So(errors.Is(a.Err(), queue.ErrSource), ShouldBeTrue)
		})
	})
}

func TestAdapter_SourceError(t *testing.T) {
	Convey("Given an adapter with a parked pull", t, func() {
		src := &fakeSource{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		a := queue.New[string](ctx, src)
		parked := pullAsync(a)
		waitForWaiters(t, a, 1)

		Convey("When the source reports an error", func() {
			cause := errors.New("watcher died")
			src.fail(cause)
			r := receive(parked)

			Convey("Then the parked pull is rejected with it", func() {
				So(r.ok, ShouldBeFalse)
				So(errors.Is(r.err, queue.ErrSource), ShouldBeTrue)
				So(errors.Is(r.err, cause), ShouldBeTrue)
			})

			Convey("And cancelling afterwards changes nothing", func() {
				cancel()
				a.Stop()
				So(a.Reason(), ShouldEqual, queue.ReasonErrored)
				So(errors.Is(a.Err(), cause), ShouldBeTrue)
				_, closes := src.counts()
				So(closes, ShouldEqual, 1)
			})
		})
	})
}

func TestAdapter_Stop(t *testing.T) {
	Convey("Given an adapter with buffered events and a parked pull elsewhere", t, func() {
		src := &fakeSource{}
		a := queue.New[string](context.Background(), src)

		Convey("When Stop is called twice", func() {
			parked := pullAsync(a)
			waitForWaiters(t, a, 1)
			a.Stop()
			a.Stop()

			Convey("Then the parked pull resolves as done", func() {
				r := receive(parked)
				So(r.err, ShouldBeNil)
				So(r.ok, ShouldBeFalse)
			})

			Convey("And the subscription is closed once", func() {
				_, closes := src.counts()
				So(closes, ShouldEqual, 1)
				So(a.Reason(), ShouldEqual, queue.ReasonCompleted)
			})
		})

		Convey("When events are buffered at Stop", func() {
			src.emit("A", "B")
			a.Stop()

			Convey("Then they are discarded", func() {
				So(a.Len(), ShouldEqual, 0)
				_, ok, err := a.Pull(context.Background())
				So(ok, ShouldBeFalse)
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestAdapter_Abort(t *testing.T) {
	Convey("Given an active adapter", t, func() {
		src := &fakeSource{}
		a := queue.New[string](context.Background(), src)

		Convey("When aborted without an error", func() {
			err := a.Abort(nil)

			Convey("Then ErrAborted becomes the terminal error", func() {
				So(errors.Is(err, queue.ErrAborted), ShouldBeTrue)
				_, _, pullErr := a.Pull(context.Background())
				So(errors.Is(pullErr, queue.ErrAborted), ShouldBeTrue)
			})
		})

		Convey("When aborted after a stop", func() {
			a.Stop()
			_ = a.Abort(errors.New("too late"))

			Convey("Then the first outcome is kept", func() {
				So(a.Reason(), ShouldEqual, queue.ReasonCompleted)
				So(a.Err(), ShouldBeNil)
			})
		})
	})
}

func TestAdapter_PullDeadline(t *testing.T) {
	Convey("Given an active adapter with nothing buffered", t, func() {
		src := &fakeSource{}
		a := queue.New[string](context.Background(), src)
		defer a.Stop()

		Convey("When a pull's own context expires", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			_, ok, err := a.Pull(ctx)

			Convey("Then only that pull gives up", func() {
				So(ok, ShouldBeFalse)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(a.State(), ShouldEqual, queue.StateActive)
				So(a.Waiting(), ShouldEqual, 0)
			})

			Convey("And the next event is buffered rather than lost", func() {
				src.emit("A")
				So(a.Len(), ShouldEqual, 1)
				ev, ok, err := a.Pull(context.Background())
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(ev, ShouldEqual, "A")
			})
		})
	})
}

func TestAdapter_All(t *testing.T) {
	Convey("Given an adapter with buffered events", t, func() {
		src := &fakeSource{}
		a := queue.New[string](context.Background(), src)
		src.emit("A", "B", "C")

		Convey("When the range loop breaks early", func() {
			var seen []string
			for ev, err := range a.All(context.Background()) {
				So(err, ShouldBeNil)
				seen = append(seen, ev)
				if len(seen) == 2 {
					break
				}
			}

			Convey("Then the adapter is stopped as completed", func() {
				So(seen, ShouldResemble, []string{"A", "B"})
				So(a.Reason(), ShouldEqual, queue.ReasonCompleted)
				_, closes := src.counts()
				So(closes, ShouldEqual, 1)
			})
		})

		Convey("When the source fails mid-stream", func() {
			go func() {
				for a.Waiting() == 0 {
					time.Sleep(time.Millisecond)
				}
				src.fail(errors.New("boom"))
			}()

			var seen []string
			var last error
			for ev, err := range a.All(context.Background()) {
				if err != nil {
					last = err
					continue
				}
				seen = append(seen, ev)
			}

			Convey("Then the error is yielded last", func() {
				So(seen, ShouldResemble, []string{"A", "B", "C"})
				So(errors.Is(last, queue.ErrSource), ShouldBeTrue)
			})
		})
	})
}

func TestAdapter_ConcurrentProducer(t *testing.T) {
	const n = 5000
	src := &fakeSource{}
	a := queue.New[string](context.Background(), src, queue.WithMaxQueue(n))

	want := make([]string, n)
	for i := range want {
		want[i] = time.Duration(i).String()
	}

	go func() {
		for _, ev := range want {
			src.emit(ev)
		}
	}()

	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		got, ok, err := a.Pull(ctx)
		cancel()
		if err != nil || !ok {
			t.Fatalf("pull %d: ok=%v err=%v", i, ok, err)
		}
		if got != want[i] {
			t.Fatalf("pull %d: expected %q, got %q", i, want[i], got)
		}
	}
	a.Stop()
	if a.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", a.Dropped())
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	cases := map[string]queue.OverflowPolicy{
		"":        queue.OverflowIgnore,
		"ignore":  queue.OverflowIgnore,
		" THROW ": queue.OverflowThrow,
	}
	for in, want := range cases {
		got, err := queue.ParseOverflowPolicy(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}

	if _, err := queue.ParseOverflowPolicy("drop-newest"); !errors.Is(err, queue.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	if queue.OverflowThrow.String() != "throw" || queue.OverflowIgnore.String() != "ignore" {
		t.Fatal("unexpected policy names")
	}
}

func TestAdapter_Defaults(t *testing.T) {
	a := queue.New[string](context.Background(), &fakeSource{}, queue.WithMaxQueue(0), queue.WithOverflowPolicy(queue.OverflowPolicy(7)))
	defer a.Stop()

	if a.MaxQueue() != queue.DefaultMaxQueue {
		t.Fatalf("expected default max queue %d, got %d", queue.DefaultMaxQueue, a.MaxQueue())
	}
	if a.Policy() != queue.OverflowIgnore {
		t.Fatalf("expected ignore policy, got %v", a.Policy())
	}
	if a.Name() == "" {
		t.Fatal("expected a generated name")
	}
	if a.Reason() != queue.ReasonNone || a.State().String() != "active" {
		t.Fatalf("unexpected initial state %v/%v", a.State(), a.Reason())
	}
}
