package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	msgs []EmailMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

type fakeS3 struct {
	key string
	err error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func testConfirmation() Confirmation {
	start := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	return Confirmation{
		AppointmentID: uuid.MustParse("7f1f6f0e-3c1a-4a8e-9a7e-0f4c1d2b3a4c"),
		PatientName:   "Asha Verma",
		PatientEmail:  "asha@example.com",
		Doctor:        "Dr. Mishra",
		Start:         start,
		End:           start.Add(30 * time.Minute),
	}
}

func TestCalendarNotifier_SendsInviteAndReturnsLink(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	sender := &recordingSender{}
	store := &fakeS3{}
	publisher := NewS3ICSPublisher(store, "invites-bucket", "ap-south-1", "")
	n := NewCalendarNotifier(sender, publisher, CalendarNotifierConfig{ClinicName: "Hair Clinic", Location: "Pune", TimeZone: ist}, nil)

	ref, err := n.Notify(context.Background(), testConfirmation())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "https://calendar.google.com/"))

	assert.Equal(t, "invites/7f1f6f0e-3c1a-4a8e-9a7e-0f4c1d2b3a4c.ics", store.key)
	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, "asha@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Wed, Mar 4 at 3:00 PM")
	assert.Contains(t, msg.Body, "Hi Asha")
	assert.Contains(t, msg.Body, "https://invites-bucket.s3.ap-south-1.amazonaws.com/invites/")
	assert.Contains(t, msg.ICS, "DTSTART:20260304T093000Z")
}

func TestCalendarNotifier_EmailFailure(t *testing.T) {
	n := NewCalendarNotifier(&recordingSender{err: errors.New("smtp down")}, nil, CalendarNotifierConfig{}, nil)

	ref, err := n.Notify(context.Background(), testConfirmation())
	require.ErrorIs(t, err, ErrNotificationFailed)
	assert.NotEmpty(t, ref)
}

func TestCalendarNotifier_UploadFailureIsNotFatal(t *testing.T) {
	sender := &recordingSender{}
	publisher := NewS3ICSPublisher(&fakeS3{err: errors.New("access denied")}, "bucket", "us-east-1", "https://cdn.example.com/")
	n := NewCalendarNotifier(sender, publisher, CalendarNotifierConfig{}, nil)

	_, err := n.Notify(context.Background(), testConfirmation())
	require.NoError(t, err)
	require.Len(t, sender.msgs, 1)
	assert.NotContains(t, sender.msgs[0].Body, "Download invite")
}

func TestCalendarNotifier_NoEmailOnFile(t *testing.T) {
	sender := &recordingSender{}
	c := testConfirmation()
	c.PatientEmail = ""

	ref, err := NewCalendarNotifier(sender, nil, CalendarNotifierConfig{}, nil).Notify(context.Background(), c)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Empty(t, sender.msgs)
}

func TestNewS3ICSPublisher_RequiresBucket(t *testing.T) {
	assert.Nil(t, NewS3ICSPublisher(&fakeS3{}, "", "us-east-1", ""))
}
