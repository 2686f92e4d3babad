package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/types"
)

// fakePage is a scripted Pager: it records every call and fails on the
// selectors listed in failOn.
type fakePage struct {
	calls  []string
	title  string
	body   string
	url    string
	failOn map[string]error
	closed bool
}

func newFakePage() *fakePage {
	return &fakePage{
		title:  "Example Portal",
		body:   "welcome to the portal",
		url:    "https://portal.example.com/",
		failOn: map[string]error{},
	}
}

func (f *fakePage) record(op, arg string) error {
	f.calls = append(f.calls, op+":"+arg)
	if err, ok := f.failOn[op+":"+arg]; ok {
		return err
	}
	return nil
}

func (f *fakePage) Navigate(ctx context.Context, url string) error { return f.record("navigate", url) }
func (f *fakePage) Title(ctx context.Context) (string, error) {
	return f.title, f.record("title", "")
}
func (f *fakePage) BodyText(ctx context.Context) (string, error) {
	return f.body, f.record("body", "")
}
func (f *fakePage) Location(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakePage) WaitVisible(ctx context.Context, sel string) (int, error) {
	return 1, f.record("wait", sel)
}
func (f *fakePage) Click(ctx context.Context, sel string) error { return f.record("click", sel) }
func (f *fakePage) SendKeys(ctx context.Context, sel, v string) error {
	return f.record("type", sel+"="+v)
}
func (f *fakePage) SwitchFrame(ctx context.Context, sel string) error {
	return f.record("frame", sel)
}
func (f *fakePage) Close() error {
	f.closed = true
	return nil
}

func testTarget() Target {
	t := DefaultTarget()
	t.LoginURL = "https://portal.example.com/login"
	return t
}

func TestRunEmailHappyPath(t *testing.T) {
	page := newFakePage()
	runner := NewRunner(testTarget(), zap.NewNop())

	result, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	want := []string{
		"navigate:https://portal.example.com/login",
		"title:", "body:",
		"wait:button.login-entry", "click:button.login-entry",
		"wait:iframe#login-frame", "frame:iframe#login-frame",
		"wait:button[data-channel=email]", "click:button[data-channel=email]",
		"wait:input[name=email]", "type:input[name=email]=user@example.com",
		"wait:button[type=submit]", "click:button[type=submit]",
		"wait:.otp-sent-notice",
	}
	assert.Equal(t, want, page.calls)
	assert.Equal(t, types.ChannelEmail, result.Channel)
	assert.Len(t, result.Timings, 6)
}

func TestRunPhoneChannel(t *testing.T) {
	page := newFakePage()
	runner := NewRunner(testTarget(), zap.NewNop())

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "08012345678",
		Channel:    types.ChannelPhone,
	})
	require.NoError(t, err)
	assert.Contains(t, page.calls, "click:button[data-channel=phone]")
	assert.Contains(t, page.calls, "type:input[name=phone]=08012345678")
	assert.NotContains(t, page.calls, "click:button[data-channel=email]")
}

func TestRunDetectsBlockPage(t *testing.T) {
	page := newFakePage()
	page.body = "Access Denied\nYou don't have permission to access this resource."
	runner := NewRunner(testTarget(), zap.NewNop())

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAccessDenied, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))

	e := err.(*types.Error)
	assert.Equal(t, StepBlockCheck, e.Step)

	// Block detection must be terminal: no interaction happened after it.
	assert.NotContains(t, page.calls, "click:button.login-entry")
}

func TestRunBlockMarkerInTitle(t *testing.T) {
	page := newFakePage()
	page.title = "403 Forbidden"
	runner := NewRunner(testTarget(), zap.NewNop())

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAccessDenied, types.GetErrorCode(err))
}

func TestRunSelectorFailureCarriesStep(t *testing.T) {
	page := newFakePage()
	page.failOn["wait:button.login-entry"] = types.NewError(types.ErrSelectorNotFound,
		"selector button.login-entry not visible after 6 attempts")
	runner := NewRunner(testTarget(), zap.NewNop())

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.Error(t, err)

	e := err.(*types.Error)
	assert.Equal(t, types.ErrSelectorNotFound, e.Code)
	assert.Equal(t, StepLogin, e.Step)
}

func TestRunFrameFailure(t *testing.T) {
	page := newFakePage()
	page.failOn["frame:iframe#login-frame"] = types.NewError(types.ErrFrameNotFound,
		"iframe iframe#login-frame not present")
	runner := NewRunner(testTarget(), zap.NewNop())

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrFrameNotFound, types.GetErrorCode(err))
	assert.Equal(t, StepFrame, err.(*types.Error).Step)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	page := newFakePage()
	runner := NewRunner(testTarget(), zap.NewNop())

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    "carrier-pigeon",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrChannelUnsupported, types.GetErrorCode(err))
	assert.Empty(t, page.calls, "invalid requests must not touch the page")
}

func TestRunOnStepCallback(t *testing.T) {
	page := newFakePage()
	runner := NewRunner(testTarget(), zap.NewNop())

	var steps []string
	runner.OnStep = func(step string, d time.Duration, attempts int, err error) {
		steps = append(steps, step)
	}

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{StepNavigate, StepBlockCheck, StepLogin, StepFrame, StepChannel, StepSubmit}, steps)
}

func TestTargetValidate(t *testing.T) {
	target := testTarget()
	require.NoError(t, target.Validate())

	target.LoginURL = ""
	target.Selectors.SubmitButton = ""
	err := target.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login_url")
	assert.Contains(t, err.Error(), "submit_button")
}

func TestSetTargetAppliesToNextRun(t *testing.T) {
	runner := NewRunner(testTarget(), zap.NewNop())

	updated := testTarget()
	updated.Selectors.LoginButton = "a.new-login-entry"
	runner.SetTarget(updated)
	assert.Equal(t, "a.new-login-entry", runner.Target().Selectors.LoginButton)

	page := newFakePage()
	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.NoError(t, err)
	assert.Contains(t, page.calls, "click:a.new-login-entry")
	assert.NotContains(t, page.calls, "click:button.login-entry")
}

func TestSkipsMissingChannelTab(t *testing.T) {
	target := testTarget()
	target.Selectors.EmailTab = ""
	page := newFakePage()
	runner := NewRunner(target, zap.NewNop())

	_, err := runner.Run(context.Background(), page, types.OTPRequest{
		Identifier: "user@example.com",
		Channel:    types.ChannelEmail,
	})
	require.NoError(t, err)
	assert.NotContains(t, page.calls, "wait:button[data-channel=email]")
	assert.Contains(t, page.calls, "type:input[name=email]=user@example.com")
}
