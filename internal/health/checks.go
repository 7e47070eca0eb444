package health

import (
	"context"
	"errors"

	"github.com/MrWong99/speechblobs/internal/credential"
	"github.com/MrWong99/speechblobs/internal/recorder"
)

// Credential fails while src holds no transcription credential.
func Credential(src credential.Source) Checker {
	return Checker{
		Name: "credential",
		Check: func(context.Context) error {
			_, err := credential.Require(src)
			return err
		},
	}
}

// Recorder fails while the recorder reports a capture error. Idle, armed,
// recording and paused recorders are all ready.
func Recorder(status func() recorder.Status) Checker {
	return Checker{
		Name: "recorder",
		Check: func(context.Context) error {
			st := status()
			if st.State != recorder.StateError {
				return nil
			}
			if st.Err != "" {
				return errors.New(st.Err)
			}
			return recorder.ErrCaptureAcquisition
		},
	}
}

// Ping wraps a connectivity check such as a database ping as an optional
// check.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping, Optional: true}
}
