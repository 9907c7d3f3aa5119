package provider

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name       string
	configured bool
	sendErr    error
	calls      int
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }
func (f *fakeProvider) Send(_ context.Context, _ *EmailRequest) error {
	f.calls++
	return f.sendErr
}

func testRequest() *EmailRequest {
	return &EmailRequest{
		NotificationID: "n-1",
		From:           "alerts@example.com",
		To:             []string{"ops@example.com"},
		Subject:        "Fraud Alert",
		Body:           "fraud detected",
	}
}

func TestRegistry_GetPrimary(t *testing.T) {
	tests := []struct {
		name      string
		providers []*fakeProvider
		primary   string
		fallback  []string
		want      string
		wantErr   bool
	}{
		{
			name:      "primary configured",
			providers: []*fakeProvider{{name: "smtp", configured: true}, {name: "ses", configured: true}},
			primary:   "smtp",
			want:      "smtp",
		},
		{
			name:      "primary unconfigured uses fallback",
			providers: []*fakeProvider{{name: "smtp"}, {name: "ses", configured: true}},
			primary:   "smtp",
			fallback:  []string{"ses"},
			want:      "ses",
		},
		{
			name:      "any configured provider in registration order",
			providers: []*fakeProvider{{name: "smtp"}, {name: "resend", configured: true}, {name: "ses", configured: true}},
			primary:   "smtp",
			want:      "resend",
		},
		{
			name:      "nothing configured",
			providers: []*fakeProvider{{name: "smtp"}},
			primary:   "smtp",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, p := range tt.providers {
				r.Register(p)
			}
			require.NoError(t, r.SetPrimary(tt.primary))
			require.NoError(t, r.SetFallback(tt.fallback...))

			p, err := r.GetPrimary()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestRegistry_SetPrimaryUnknown(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.SetPrimary("smtp"))
	assert.Error(t, r.SetFallback("ses"))
}

func TestRegistry_SendFallsBackOnFailure(t *testing.T) {
	primary := &fakeProvider{name: "smtp", configured: true, sendErr: errors.New("connection refused")}
	fallback := &fakeProvider{name: "ses", configured: true}

	r := NewRegistry()
	r.Register(primary)
	r.Register(fallback)
	require.NoError(t, r.SetPrimary("smtp"))
	require.NoError(t, r.SetFallback("ses"))

	require.NoError(t, r.Send(context.Background(), testRequest()))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestRegistry_SendReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("auth failed")
	primary := &fakeProvider{name: "smtp", configured: true, sendErr: primaryErr}
	fallback := &fakeProvider{name: "ses", configured: true, sendErr: errors.New("throttled")}

	r := NewRegistry()
	r.Register(primary)
	r.Register(fallback)
	require.NoError(t, r.SetPrimary("smtp"))
	require.NoError(t, r.SetFallback("ses"))

	err := r.Send(context.Background(), testRequest())
	assert.ErrorIs(t, err, primaryErr)
	assert.ErrorContains(t, err, "ses: throttled")
	assert.Equal(t, []string{"smtp", "ses"}, r.List())
}

func TestRegistry_SendTriesEachProviderOnce(t *testing.T) {
	smtp := &fakeProvider{name: "smtp", configured: true, sendErr: errors.New("connection refused")}
	ses := &fakeProvider{name: "ses"}
	resend := &fakeProvider{name: "resend", configured: true}

	r := NewRegistry()
	r.Register(smtp)
	r.Register(ses)
	r.Register(resend)
	require.NoError(t, r.SetPrimary("smtp"))
	require.NoError(t, r.SetFallback("ses", "smtp"))

	require.NoError(t, r.Send(context.Background(), testRequest()))
	assert.Equal(t, 1, smtp.calls)
	assert.Zero(t, ses.calls, "unconfigured providers are skipped")
	assert.Equal(t, 1, resend.calls)
}

func TestRegistry_SendWithoutProviders(t *testing.T) {
	assert.Error(t, NewRegistry().Send(context.Background(), testRequest()))
}

func TestBuildMessage(t *testing.T) {
	msg, err := BuildMessage(testRequest())
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "alerts@example.com")
	assert.Contains(t, raw, "ops@example.com")
	assert.Contains(t, raw, "Subject: Fraud Alert")
	assert.Contains(t, raw, "fraud detected")
}

func TestBuildMessage_Invalid(t *testing.T) {
	req := testRequest()
	req.To = nil
	_, err := BuildMessage(req)
	assert.ErrorContains(t, err, "no recipients")

	req = testRequest()
	req.From = "not an address"
	_, err = BuildMessage(req)
	assert.ErrorContains(t, err, "invalid from address")
}

func TestSMTPProvider_IsConfigured(t *testing.T) {
	assert.False(t, NewSMTPProvider(SMTPConfig{}).IsConfigured())
	assert.True(t, NewSMTPProvider(SMTPConfig{Host: "localhost", Port: 1025}).IsConfigured())
	assert.Equal(t, "smtp", NewSMTPProvider(SMTPConfig{}).Name())
}

func TestUnconfiguredProviders(t *testing.T) {
	ses := NewSESProvider(context.Background(), "")
	assert.False(t, ses.IsConfigured())
	assert.Error(t, ses.Send(context.Background(), testRequest()))

	rs := NewResendProvider("")
	assert.False(t, rs.IsConfigured())
	assert.Error(t, rs.Send(context.Background(), testRequest()))
}

func TestCheckRequest(t *testing.T) {
	assert.ErrorContains(t, checkRequest("ses", false, testRequest()), "ses: provider not configured")

	req := testRequest()
	req.To = nil
	assert.ErrorContains(t, checkRequest("resend", true, req), "resend: no recipients")

	assert.NoError(t, checkRequest("ses", true, testRequest()))
}
