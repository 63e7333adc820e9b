// Package notify delivers system notifications raised by push messages.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notification is what gets displayed to the user.
type Notification struct {
	Tag   string
	Title string
	Body  string
	Icon  string
	Badge string
}

// New builds a notification with a fresh tag
func New(title, body, icon, badge string) Notification {
	return Notification{
		Tag:   uuid.NewString(),
		Title: title,
		Body:  body,
		Icon:  icon,
		Badge: badge,
	}
}

// Notifier displays notifications. Show returns once the notification has been handed off.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log
type LogNotifier struct{}

func (LogNotifier) Show(ctx context.Context, n Notification) error {
	logrus.WithFields(logrus.Fields{
		"tag":   n.Tag,
		"title": n.Title,
		"body":  n.Body,
		"icon":  n.Icon,
		"badge": n.Badge,
	}).Info("Notification")
	return nil
}

// Multi shows a notification on every notifier, even if some of them fail.
type Multi []Notifier

func (m Multi) Show(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
