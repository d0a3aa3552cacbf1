package camera_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/rollcall/internal/adapters/camera"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestSnapshotSource(t *testing.T) {
	Convey("Given a camera serving snapshots", t, func() {
		var hits atomic.Int32
		var fail atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			if fail.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("frame"))
		}))
		defer srv.Close()

		at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		src := camera.NewSnapshotSource(
			camera.WithURL(model.FacingFront, srv.URL),
			camera.WithLockDir(t.TempDir()),
			camera.WithMaxFPS(1000),
			camera.WithClock(func() time.Time { return at }),
		)
		ctx := context.Background()

		Convey("When the front camera is opened", func() {
			h, err := src.Open(ctx, model.FacingFront)
			So(err, ShouldBeNil)
			defer h.Close()

			Convey("Then frames carry data, type and capture time", func() {
				f, err := h.CurrentFrame(ctx)
				So(err, ShouldBeNil)
				So(string(f.Data), ShouldEqual, "frame")
				So(f.ContentType, ShouldEqual, "image/jpeg")
				So(f.CapturedAt, ShouldEqual, at)
				So(hits.Load(), ShouldEqual, 1)
			})

			Convey("Then a second open of the same facing is refused", func() {
				_, err := src.Open(ctx, model.FacingFront)
				So(errors.Is(err, camera.ErrBusy), ShouldBeTrue)
				So(errors.Is(err, model.ErrDevice), ShouldBeTrue)
			})

			Convey("Then the device can be reopened after Close", func() {
				So(h.Close(), ShouldBeNil)
				So(h.Close(), ShouldBeNil)
				_, err := h.CurrentFrame(ctx)
				So(errors.Is(err, camera.ErrClosed), ShouldBeTrue)

				h2, err := src.Open(ctx, model.FacingFront)
				So(err, ShouldBeNil)
				So(h2.Close(), ShouldBeNil)
			})

			Convey("Then a failing camera reports a device error", func() {
				fail.Store(true)
				_, err := h.CurrentFrame(ctx)
				So(errors.Is(err, model.ErrDevice), ShouldBeTrue)
			})
		})

		Convey("When an unconfigured facing is opened", func() {
			So(src.Configured(model.FacingBack), ShouldBeFalse)
			_, err := src.Open(ctx, model.FacingBack)

			Convey("Then it is a device error", func() {
				So(errors.Is(err, camera.ErrNotConfigured), ShouldBeTrue)
				So(errors.Is(err, model.ErrDevice), ShouldBeTrue)
			})
		})

		Convey("When an unknown facing is opened", func() {
			_, err := src.Open(ctx, model.Facing("side"))
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestSnapshotRateLimit(t *testing.T) {
	Convey("Given a camera limited to one frame per second", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0})
		}))
		defer srv.Close()
		src := camera.NewSnapshotSource(
			camera.WithURL(model.FacingBack, srv.URL),
			camera.WithLockDir(t.TempDir()),
			camera.WithMaxFPS(1),
		)
		h, err := src.Open(context.Background(), model.FacingBack)
		So(err, ShouldBeNil)
		defer h.Close()

		Convey("Then a second frame waits and honours the context", func() {
			f, err := h.CurrentFrame(context.Background())
			So(err, ShouldBeNil)
			So(f.ContentType, ShouldEqual, "image/jpeg")

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = h.CurrentFrame(ctx)
			So(err, ShouldNotBeNil)
		})
	})
}
