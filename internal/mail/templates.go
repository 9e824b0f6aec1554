package mail

import "tlr.org/internal/config"

// Template is the subject and body for one notification kind.
type Template struct {
	Subject string
	Content string
}

// Templates is keyed by the config template keys.
var Templates = map[string]Template{
	config.TemplateStaleServiceAdmin: {
		Subject: "Please review your service",
		Content: `Hi,

Your service ((SERVICE_NAME)) has not been updated for a while. Please review it at ((SERVICE_URL)).

If the page is still up to date, confirm it here: ((SERVICE_STILL_UP_TO_DATE_URL))`,
	},
	config.TemplateStaleGlobalAdmin: {
		Subject: "Service not updated for over a year",
		Content: `Hi,

((SERVICE_NAME)) has not been updated in over 12 months: ((SERVICE_URL)).

Service admins: ((SERVICE_ADMIN_NAMES)).

If the page is still up to date, confirm it here: ((SERVICE_STILL_UP_TO_DATE_URL))`,
	},
	config.TemplateReferralCompletedReferee: {
		Subject: "Referral Completed",
		Content: `Hi ((REFEREE_NAME)),

The referral you made to ((SERVICE_NAME)) has been marked as complete. Referral ID: ((REFERRAL_ID)).

Your client should have been contacted by now, but if they haven't then please contact them on ((SERVICE_PHONE)) or by email at ((SERVICE_EMAIL)).`,
	},
	config.TemplateUpdateRequestApproved: {
		Subject: "Update Request Approved",
		Content: `Hi ((SUBMITTER_NAME)),

Your update request for the ((RESOURCE_NAME)) (((RESOURCE_TYPE))) on ((REQUEST_DATE)) has been approved.`,
	},
}

// Compose builds an Email for the template key using the configured id.
func Compose(cfg config.MailConfig, key, to string, values map[string]string) Email {
	t := Templates[key]
	return Email{
		TemplateID: cfg.TemplateID(key),
		To:         to,
		Subject:    t.Subject,
		Content:    t.Content,
		Values:     values,
	}
}
