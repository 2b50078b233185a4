// Package notification announces published batches through shoutrrr
// service URLs (ntfy, Telegram, Discord, SMTP and others).
package notification

import (
	"bytes"
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"text/template"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/privacy"
)

const (
	defaultTitle   = `birdbird: highlights {{.BatchID}}`
	defaultMessage = `{{if .Reused}}Batch {{.BatchID}} republished unchanged.{{else}}New batch {{.BatchID}}.{{end}}
{{.ClipCount}} clips, {{.StartDate}}{{if ne .StartDate .EndDate}} to {{.EndDate}}{{end}}, {{duration .HighlightsDuration}} of highlights.
{{- if .TopSpecies}}
Top species: {{join .TopSpecies ", "}}{{end}}
{{- if .ExcludedClips}}
{{.ExcludedClips}} clip(s) could not be extracted.{{end}}
{{- if .RetentionCandidates}}
{{len .RetentionCandidates}} old batch(es) are due for cleanup: {{join .RetentionCandidates ", "}}{{end}}`

	topSpeciesLimit = 5
)

// Sender delivers a rendered message. *router.ServiceRouter satisfies it.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notice describes a published batch.
type Notice struct {
	BatchID             string
	StartDate           string
	EndDate             string
	ClipCount           int
	HighlightsDuration  float64
	TopSpecies          []string
	Reused              bool
	ExcludedClips       int
	RetentionCandidates []string
}

// TopSpecies returns up to topSpeciesLimit labels ordered by count, then name.
func TopSpecies(counts map[string]int) []string {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	slices.SortFunc(labels, func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})
	if len(labels) > topSpeciesLimit {
		labels = labels[:topSpeciesLimit]
	}
	return labels
}

// Notifier sends batch notices. A disabled Notifier does nothing.
type Notifier struct {
	sender  Sender
	title   *template.Template
	message *template.Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"duration": func(seconds float64) string {
		d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
		return d.String()
	},
}

// NewNotifier builds a notifier from settings. It returns a disabled
// notifier when notifications are off.
func NewNotifier(s *conf.NotificationSettings) (*Notifier, error) {
	if !s.Enabled {
		return &Notifier{}, nil
	}
	if len(s.URLs) == 0 {
		return nil, errors.Newf("notification enabled but no URLs configured").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(s.URLs...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Category(errors.CategoryConfiguration).
			Context("urls", len(s.URLs)).
			Build()
	}
	if s.Timeout > 0 {
		sender.Timeout = s.Timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return newNotifier(sender, s.Title, s.Message)
}

func newNotifier(sender Sender, title, message string) (*Notifier, error) {
	n := &Notifier{sender: sender}
	var err error
	if n.title, err = parse("title", orDefault(title, defaultTitle)); err != nil {
		return nil, err
	}
	if n.message, err = parse("message", orDefault(message, defaultMessage)); err != nil {
		return nil, err
	}
	return n, nil
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("template", name).
			Build()
	}
	return t, nil
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// Enabled reports whether notices are delivered.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil
}

// Notify renders and sends a notice. Delivery failures to individual
// services are joined into one error.
func (n *Notifier) Notify(ctx context.Context, notice *Notice) error {
	if !n.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.New(err).Category(errors.CategoryCancellation).Build()
	}

	title, err := render(n.title, notice)
	if err != nil {
		return err
	}
	body, err := render(n.message, notice)
	if err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(title)

	var failed []error
	for _, e := range n.sender.Send(body, &params) {
		if e != nil {
			failed = append(failed, privacy.WrapError(e))
		}
	}
	if len(failed) > 0 {
		return errors.New(errors.Join(failed...)).
			Category(errors.CategoryNetwork).
			Context("operation", "send_notification").
			Context("batch_id", notice.BatchID).
			Build()
	}

	GetLogger().Info("Notification sent", logger.String("batch_id", notice.BatchID))
	return nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.New(err).
			Category(errors.CategoryProcessing).
			Context("template", t.Name()).
			Build()
	}
	return buf.String(), nil
}
