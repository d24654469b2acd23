package types

import "time"

// MaxSendErrors bounds the diagnostic error list kept on a job.
const MaxSendErrors = 10

// NotificationJob is the persisted notification record together with the
// state of its current (or last) send run.
//
// Invariant: SuccessCount + FailureCount <= SendProgress <= SendTotal.
type NotificationJob struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	ImageURL    *string `json:"image_url,omitempty"`
	DeepLinkURL *string `json:"deep_link_url,omitempty"`

	SendStatus   SendStatus `json:"send_status"`
	SendProgress int        `json:"send_progress"`
	SendTotal    int        `json:"send_total"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SendErrors   []string   `json:"send_errors,omitempty"`

	// ReceiverCount mirrors SuccessCount for older admin screens.
	ReceiverCount int `json:"receiver_count"`

	SendStartedAt   *time.Time `json:"send_started_at,omitempty"`
	SendCompletedAt *time.Time `json:"send_completed_at,omitempty"`
	SendHeartbeatAt *time.Time `json:"send_heartbeat_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message returns the immutable push payload of the job.
func (j *NotificationJob) Message() PushMessage {
	m := PushMessage{JobID: j.ID, Title: j.Title, Body: j.Body}
	if j.ImageURL != nil {
		m.ImageURL = *j.ImageURL
	}
	if j.DeepLinkURL != nil {
		m.DeepLinkURL = *j.DeepLinkURL
	}
	return m
}

// Progress returns the job's persisted counters.
func (j *NotificationJob) Progress() Progress {
	return Progress{
		Processed:    j.SendProgress,
		Success:      j.SuccessCount,
		Failure:      j.FailureCount,
		RecentErrors: append([]string(nil), j.SendErrors...),
	}
}

// Status returns the polling view of the job.
func (j *NotificationJob) Status() JobStatus {
	return JobStatus{
		ID:              j.ID,
		SendStatus:      j.SendStatus,
		SendProgress:    j.SendProgress,
		SendTotal:       j.SendTotal,
		SuccessCount:    j.SuccessCount,
		FailureCount:    j.FailureCount,
		SendErrors:      j.SendErrors,
		SendStartedAt:   j.SendStartedAt,
		SendCompletedAt: j.SendCompletedAt,
		Polling:         j.SendStatus.IsActive(),
	}
}

// NewJob carries the fields an admin supplies when creating a notification.
type NewJob struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Body        string  `json:"body" validate:"required,max=2000"`
	ImageURL    *string `json:"image_url,omitempty" validate:"omitempty,http_url,max=2048"`
	DeepLinkURL *string `json:"deep_link_url,omitempty" validate:"omitempty,max=2048"`
}

// JobStatus is what polling clients receive. Clients keep polling while
// Polling is true (status queued or sending).
type JobStatus struct {
	ID              string     `json:"id"`
	SendStatus      SendStatus `json:"send_status"`
	SendProgress    int        `json:"send_progress"`
	SendTotal       int        `json:"send_total"`
	SuccessCount    int        `json:"success_count"`
	FailureCount    int        `json:"failure_count"`
	SendErrors      []string   `json:"send_errors,omitempty"`
	SendStartedAt   *time.Time `json:"send_started_at,omitempty"`
	SendCompletedAt *time.Time `json:"send_completed_at,omitempty"`
	Polling         bool       `json:"polling"`
}

// Progress is a cumulative snapshot of one run's counters.
type Progress struct {
	Processed    int
	Success      int
	Failure      int
	RecentErrors []string
}

// DeviceToken is one push address together with its owner.
type DeviceToken struct {
	Token    string
	OwnerID  string
	Platform Platform
	Source   TokenSource
}

// PushMessage is the content delivered to every token of a job.
type PushMessage struct {
	JobID       string
	Title       string
	Body        string
	ImageURL    string
	DeepLinkURL string
}

// DeliveryOutcome is the classified result of one push attempt.
// Code and Message are always set when Kind is not DeliveryOK.
type DeliveryOutcome struct {
	Kind      DeliveryKind
	Token     string
	MessageID string
	Code      string
	Message   string
}

// OK reports whether the attempt succeeded.
func (o DeliveryOutcome) OK() bool { return o.Kind == DeliveryOK }

// Succeeded builds an ok outcome.
func Succeeded(token, messageID string) DeliveryOutcome {
	return DeliveryOutcome{Kind: DeliveryOK, Token: token, MessageID: messageID}
}

// TransientFailure builds a retryable failure outcome.
func TransientFailure(token, code, message string) DeliveryOutcome {
	return DeliveryOutcome{Kind: DeliveryTransientError, Token: token, Code: code, Message: message}
}

// InvalidToken builds a permanent failure outcome; the token must be pruned.
func InvalidToken(token, code, message string) DeliveryOutcome {
	return DeliveryOutcome{Kind: DeliveryInvalidToken, Token: token, Code: code, Message: message}
}

// Diagnostic formats the outcome for the job's error list. Tokens are
// shortened so diagnostics never carry full push addresses.
func (o DeliveryOutcome) Diagnostic() string {
	return TokenPreview(o.Token) + ": " + o.Code + ": " + o.Message
}

// TokenPreview shortens a token for logs and diagnostics.
func TokenPreview(token string) string {
	if len(token) > 16 {
		return token[:16] + "..."
	}
	return token
}
