// Package notify delivers messages to requesters and resources. Adapters own their retries;
// the coordinator calls Notify once with a bounded context and only logs failures.
package notify

import (
	"context"
	"log/slog"
)

type PartyKind string

const (
	PartyRequester PartyKind = "requester"
	PartyResource  PartyKind = "resource"
)

type Party struct {
	Kind    PartyKind `json:"kind"`
	ID      string    `json:"id"`
	Contact string    `json:"contact,omitempty"`
}

type Template string

const (
	TemplateRequestAccepted  Template = "request_accepted"
	TemplateRideCode         Template = "ride_code"
	TemplateNoResources      Template = "no_resources"
	TemplateRequestCancelled Template = "request_cancelled"
	TemplateRequestCompleted Template = "request_completed"
)

// Notifier is the outbound notification port.
type Notifier interface {
	Notify(ctx context.Context, to Party, tmpl Template, vars map[string]string) error
}

// Message is the wire form used by the webhook and Kafka adapters.
type Message struct {
	To       Party             `json:"to"`
	Template Template          `json:"template"`
	Vars     map[string]string `json:"vars,omitempty"`
}

// LogNotifier writes notifications to the log instead of delivering them. Secrets are masked.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, to Party, tmpl Template, vars map[string]string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "party_kind", to.Kind, "party_id", to.ID, "template", tmpl, "vars", redact(vars))
	return nil
}

var secretVars = map[string]bool{"code": true}

func redact(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if secretVars[k] {
			v = "****"
		}
		out[k] = v
	}
	return out
}
