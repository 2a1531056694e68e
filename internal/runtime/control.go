package runtime

import (
	"context"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
	"github.com/drblury/ttcflow/internal/runtime/store"
)

// HandleControl records msg in the audit log and, when it carries
// program.group.number, makes sure a participant with that number exists.
// A missing number is not an error. An existing participant, found up front
// or reported as a duplicate by the store, leaves the store untouched.
func (w *Worker) HandleControl(ctx context.Context, msg messagepkg.Message) error {
	w.audit.Record(msg)

	fields := loggingpkg.LogFields{"stream": StreamControl, "message_uuid": msg.UUID()}
	number, ok, err := msg.PhoneNumber()
	if err != nil {
		return err
	}
	if !ok {
		w.Logger.Debug("Control message carries no phone number", fields)
		return nil
	}
	fields["phone_number"] = number

	st := w.currentStore()
	if st == nil {
		return ErrNotRunning
	}
	if w.Degraded() {
		w.Logger.Info("Participant store degraded, skipping write", fields)
		w.metrics.skippedWrite()
		return nil
	}

	existing, found, err := st.FindByPhoneNumber(ctx, number)
	if err != nil {
		return w.storeFailure(err)
	}
	if found {
		fields["participant_id"] = existing.ID
		w.Logger.Debug("Participant already known", fields)
		return nil
	}

	id, err := st.Create(ctx, number)
	if err != nil {
		if store.IsDuplicate(err) {
			w.Logger.Info("Participant created concurrently, nothing to do", fields)
			return nil
		}
		return w.storeFailure(err)
	}

	fields["participant_id"] = id
	w.Logger.Info("Participant created", fields)
	w.metrics.participantCreated()
	return nil
}
