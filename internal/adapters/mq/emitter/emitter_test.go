package emitter_test

import (
	"errors"
	"testing"

	"github.com/okian/watchq/internal/adapters/mq/emitter"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEmitter(t *testing.T) {
	Convey("Given an emitter with two subscribers", t, func() {
		em := emitter.New[string]()
		var got1, got2 []string
		var errs []error

		unsub1, err := em.Subscribe(func(s string) { got1 = append(got1, s) }, func(err error) { errs = append(errs, err) })
		So(err, ShouldBeNil)
		_, err = em.Subscribe(func(s string) { got2 = append(got2, s) }, nil)
		So(err, ShouldBeNil)
		So(em.Subscribers(), ShouldEqual, 2)

		Convey("When emitting", func() {
			n := em.Emit("a")

			Convey("Then every subscriber receives the value", func() {
				So(n, ShouldEqual, 2)
				So(got1, ShouldResemble, []string{"a"})
				So(got2, ShouldResemble, []string{"a"})
			})
		})

		Convey("When one subscriber unsubscribes twice", func() {
			unsub1()
			unsub1()
			em.Emit("b")

			Convey("Then only the other one receives later values", func() {
				So(em.Subscribers(), ShouldEqual, 1)
				So(got1, ShouldBeEmpty)
				So(got2, ShouldResemble, []string{"b"})
			})
		})

		Convey("When the emitter fails", func() {
			boom := errors.New("boom")
			n := em.Fail(boom)

			Convey("Then subscribers are told once and detached", func() {
				So(n, ShouldEqual, 2)
				So(errs, ShouldResemble, []error{boom})
				So(em.Subscribers(), ShouldEqual, 0)
				So(em.Emit("c"), ShouldEqual, 0)
			})
		})

		Convey("When the emitter is closed", func() {
			em.Close()
			_, err := em.Subscribe(func(string) {}, nil)

			Convey("Then new subscriptions are rejected", func() {
				So(errors.Is(err, emitter.ErrClosed), ShouldBeTrue)
				So(em.Subscribers(), ShouldEqual, 2)
			})
		})

		Convey("When subscribing without an event callback", func() {
			_, err := em.Subscribe(nil, nil)

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
