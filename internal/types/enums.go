package types

// SendStatus is the lifecycle state of a notification send job.
//
//	idle -> queued -> sending -> {sent | partial | failed}
//
// A job found in sending when a new run starts is resumed, not restarted.
type SendStatus string

const (
	SendStatusIdle    SendStatus = "idle"
	SendStatusQueued  SendStatus = "queued"
	SendStatusSending SendStatus = "sending"
	SendStatusSent    SendStatus = "sent"
	SendStatusPartial SendStatus = "partial"
	SendStatusFailed  SendStatus = "failed"
)

// IsValid reports whether s is one of the known states.
func (s SendStatus) IsValid() bool {
	switch s {
	case SendStatusIdle, SendStatusQueued, SendStatusSending,
		SendStatusSent, SendStatusPartial, SendStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job has finished a run.
func (s SendStatus) IsTerminal() bool {
	return s == SendStatusSent || s == SendStatusPartial || s == SendStatusFailed
}

// IsActive reports whether a polling client should keep polling.
func (s SendStatus) IsActive() bool {
	return s == SendStatusQueued || s == SendStatusSending
}

// CanEnqueue reports whether a send may be requested from this state.
// A sent job is never re-queued; partial and failed jobs may be retried.
func (s SendStatus) CanEnqueue() bool {
	return s == SendStatusIdle || s == SendStatusFailed || s == SendStatusPartial
}

// EnqueueableStatuses lists the states Enqueue transitions from.
var EnqueueableStatuses = []SendStatus{SendStatusIdle, SendStatusFailed, SendStatusPartial}

// DeliveryKind classifies the result of a single push attempt.
type DeliveryKind string

const (
	DeliveryOK             DeliveryKind = "ok"
	DeliveryTransientError DeliveryKind = "transient-error"
	DeliveryInvalidToken   DeliveryKind = "invalid-token"
)

// Platform identifies the device operating system behind a token.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
	PlatformUnknown Platform = "unknown"
)

// NormalizePlatform maps free-form platform strings stored by the mobile
// app onto the known set.
func NormalizePlatform(raw string) Platform {
	switch Platform(raw) {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return Platform(raw)
	}
	switch raw {
	case "Android", "ANDROID":
		return PlatformAndroid
	case "iOS", "IOS", "iphone", "ipad":
		return PlatformIOS
	}
	return PlatformUnknown
}

// TokenSource records which backing store a device token came from.
type TokenSource string

const (
	// TokenSourceDevice is the multi-device table (one user, many tokens).
	TokenSourceDevice TokenSource = "device"
	// TokenSourceLegacy is the single token column on the user record.
	TokenSourceLegacy TokenSource = "legacy"
)
