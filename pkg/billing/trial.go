package billing

import "context"

const secondsPerDay = 86400

// SendTrialReminders sends trial-will-end notices for trials ending within
// the configured lead window and trial-ended notices for trials that lapsed
// without a renewal. Each entity is reminded at most once per trial; the
// caller schedules this as a periodic batch job.
func (s *Service) SendTrialReminders(ctx context.Context) (endingSoon, ended int, err error) {
	endingSoon, err = s.sendTrialWillEndReminders(ctx)
	if err != nil {
		return endingSoon, 0, err
	}
	ended, err = s.sendTrialEndedReminders(ctx)
	return endingSoon, ended, err
}

func (s *Service) sendTrialWillEndReminders(ctx context.Context) (int, error) {
	if !s.cfg.Emails.TrialWillEnd {
		return 0, nil
	}

	// The reminder window is valid for up to one day.
	now := s.now().Unix()
	end := now + int64(s.cfg.TrialReminderDays)*secondsPerDay
	entities, err := s.entities.TrialsEndingSoon(ctx, end-secondsPerDay, end)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range entities {
		s.notify(ctx, e, TemplateTrialWillEnd, map[string]interface{}{
			"subject": "Your trial ends soon on " + s.cfg.AppName,
			"tags":    []string{"billing", "trial-will-end"},
		})

		eff, err := ApplyUpdate(e, Update{LastTrialReminder: ptr(now)}, now)
		if err != nil {
			return sent, err
		}
		if err := s.entities.Update(ctx, e, eff); err != nil {
			return sent, err
		}
		sent++
	}

	return sent, nil
}

func (s *Service) sendTrialEndedReminders(ctx context.Context) (int, error) {
	if !s.cfg.Emails.TrialEnded {
		return 0, nil
	}

	now := s.now().Unix()
	entities, err := s.entities.EndedTrials(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range entities {
		s.notify(ctx, e, TemplateTrialEnded, map[string]interface{}{
			"subject": "Your " + s.cfg.AppName + " trial has ended",
			"tags":    []string{"billing", "trial-ended"},
		})

		eff, err := ApplyUpdate(e, Update{LastTrialReminder: ptr(now)}, now)
		if err != nil {
			return sent, err
		}
		if err := s.entities.Update(ctx, e, eff); err != nil {
			return sent, err
		}
		sent++
	}

	return sent, nil
}
