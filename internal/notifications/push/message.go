// Package push wraps Firebase Cloud Messaging: it builds platform-aware
// messages, delivers exactly one message per call and classifies the
// result.
package push

import (
	"net/url"

	"firebase.google.com/go/v4/messaging"

	"pushengine/internal/types"
)

// maxCollapseKeyBytes is the APNs limit for apns-collapse-id.
const maxCollapseKeyBytes = 64

// CollapseKey derives the per-job key that lets devices replace an earlier
// notification of the same job instead of stacking a duplicate.
func CollapseKey(jobID string) string {
	key := "notif_" + jobID
	if len(key) > maxCollapseKeyBytes {
		key = key[:maxCollapseKeyBytes]
	}
	return key
}

// BuildMessage builds the FCM message for one token. An image URL that is
// not an absolute http(s) URL is dropped.
func BuildMessage(token string, m types.PushMessage) *messaging.Message {
	key := CollapseKey(m.JobID)
	image := sanitizeImageURL(m.ImageURL)

	data := map[string]string{"notificationId": m.JobID}
	if m.DeepLinkURL != "" {
		data["url"] = m.DeepLinkURL
	}

	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title:    m.Title,
			Body:     m.Body,
			ImageURL: image,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority:    "high",
			CollapseKey: key,
			Notification: &messaging.AndroidNotification{
				Tag:      key,
				ImageURL: image,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":    "10",
				"apns-collapse-id": key,
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:          "default",
					ThreadID:       key,
					MutableContent: image != "",
				},
			},
		},
	}
	if image != "" {
		msg.APNS.FCMOptions = &messaging.APNSFCMOptions{ImageURL: image}
	}
	return msg
}

func sanitizeImageURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
