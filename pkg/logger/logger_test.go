package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	convey.Convey("Given the global logger", t, func() {
		convey.Convey("When initialised with defaults", func() {
			err := Init()

			convey.Convey("Then Get returns a usable logger", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(Get(), convey.ShouldNotBeNil)
				convey.So(Sync(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When initialised with an unknown format", func() {
			err := Init(WithFormat("xml"))

			convey.Convey("Then it reports the format", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "xml")
			})
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	convey.Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		convey.So(Init(WithWriter(&buf), WithFormat("json")), convey.ShouldBeNil)
		ctx := context.Background()

		convey.Convey("When logging with fields through a named logger", func() {
			Named("quota").Info(ctx, "budget updated", String("k", "v"), Error(errors.New("boom")))

			var line map[string]any
			err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line)

			convey.Convey("Then the record carries message, fields, component and source", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(line["msg"], convey.ShouldEqual, "budget updated")
				convey.So(line["k"], convey.ShouldEqual, "v")
				convey.So(line["error"], convey.ShouldEqual, "boom")
				convey.So(line["component"], convey.ShouldEqual, "quota")
				convey.So(line["source"], convey.ShouldContainSubstring, "logger_test.go")
			})
		})

		convey.Convey("When the level is raised to warn", func() {
			convey.So(SetLevelString("warn"), convey.ShouldBeNil)
			Get().Info(ctx, "hidden")
			Get().Warn(ctx, "shown")

			convey.Convey("Then only the warning is written", func() {
				out := buf.String()
				convey.So(strings.Contains(out, "hidden"), convey.ShouldBeFalse)
				convey.So(out, convey.ShouldContainSubstring, "shown")
			})
		})

		convey.Convey("When an invalid level is set", func() {
			convey.So(SetLevelString("loud"), convey.ShouldNotBeNil)
		})
	})
}

func TestNop(t *testing.T) {
	convey.Convey("Given the nop logger", t, func() {
		l := Nop()

		convey.Convey("Then logging and naming never panic", func() {
			convey.So(func() {
				l.Named("x").Info(context.Background(), "ignored", Int("n", 1))
				l.Debug(context.Background(), "ignored")
			}, convey.ShouldNotPanic)
		})
	})
}
