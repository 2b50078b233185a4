package notification

import (
	"context"
	"errors"
	"testing"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rssrn/birdbird/internal/conf"
)

type fakeSender struct {
	messages []string
	titles   []string
	errs     []error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.messages = append(f.messages, message)
	if params != nil {
		title, _ := params.Title()
		f.titles = append(f.titles, title)
	}
	return f.errs
}

func testNotice() *Notice {
	return &Notice{
		BatchID:            "20260201-01",
		StartDate:          "2026-02-01",
		EndDate:            "2026-02-02",
		ClipCount:          12,
		HighlightsDuration: 95.4,
		TopSpecies:         []string{"Blue Tit", "Robin"},
	}
}

func TestNotifyDefaultTemplates(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n, err := newNotifier(sender, "", "")
	require.NoError(t, err)
	require.True(t, n.Enabled())

	notice := testNotice()
	notice.RetentionCandidates = []string{"20260101-01"}
	require.NoError(t, n.Notify(context.Background(), notice))

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Contains(t, msg, "New batch 20260201-01.")
	assert.Contains(t, msg, "12 clips, 2026-02-01 to 2026-02-02, 1m35s of highlights.")
	assert.Contains(t, msg, "Top species: Blue Tit, Robin")
	assert.Contains(t, msg, "1 old batch(es) are due for cleanup: 20260101-01")
	assert.NotContains(t, msg, "could not be extracted")
	assert.Equal(t, []string{"birdbird: highlights 20260201-01"}, sender.titles)
}

func TestNotifyCustomTemplate(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n, err := newNotifier(sender, "{{.BatchID}}", "{{.ClipCount}} clips{{if .Reused}} (unchanged){{end}}")
	require.NoError(t, err)

	notice := testNotice()
	notice.Reused = true
	require.NoError(t, n.Notify(context.Background(), notice))
	assert.Equal(t, []string{"12 clips (unchanged)"}, sender.messages)
	assert.Equal(t, []string{"20260201-01"}, sender.titles)
}

func TestNotifyInvalidTemplate(t *testing.T) {
	t.Parallel()

	_, err := newNotifier(&fakeSender{}, "{{.BatchID", "")
	assert.Error(t, err)
}

func TestNotifyScrubsServiceURLs(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{errs: []error{nil, errors.New(`post "https://api.telegram.org/bot123:SECRET/sendMessage": timeout`)}}
	n, err := newNotifier(sender, "", "")
	require.NoError(t, err)

	err = n.Notify(context.Background(), testNotice())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
	assert.Contains(t, err.Error(), "https://domain-org-")
}

func TestDisabledNotifier(t *testing.T) {
	t.Parallel()

	n, err := NewNotifier(&conf.NotificationSettings{Enabled: false, URLs: []string{"ntfy://ntfy.sh/birds"}})
	require.NoError(t, err)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), testNotice()))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Notify(context.Background(), testNotice()))
}

func TestNewNotifierRequiresURLs(t *testing.T) {
	t.Parallel()

	_, err := NewNotifier(&conf.NotificationSettings{Enabled: true})
	assert.Error(t, err)
}

func TestNotifyCancelled(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n, err := newNotifier(sender, "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, testNotice()), context.Canceled)
	assert.Empty(t, sender.messages)
}

func TestTopSpecies(t *testing.T) {
	t.Parallel()

	counts := map[string]int{"Robin": 2, "Blue Tit": 5, "Wren": 2, "Jay": 1, "Magpie": 1, "Great Tit": 3}
	assert.Equal(t, []string{"Blue Tit", "Great Tit", "Robin", "Wren", "Jay"}, TopSpecies(counts))
	assert.Empty(t, TopSpecies(nil))
}
