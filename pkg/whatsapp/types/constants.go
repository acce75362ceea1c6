package types

const (
	MessagingProduct = "whatsapp"
	ObjectWABA       = "whatsapp_business_account"

	// Webhook change fields
	FieldMessages              = "messages"
	FieldTemplateStatusUpdate  = "message_template_status_update"
	SignatureHeader            = "X-Hub-Signature-256"
	SignaturePrefix            = "sha256="
	WebhookAcknowledgementBody = "EVENT_RECEIVED"
)

const (
	EndpointMessages         = "/messages"
	EndpointSubscribedApps   = "/subscribed_apps"
	EndpointPhoneNumbers     = "/phone_numbers"
	EndpointMessageTemplates = "/message_templates"
	EndpointVerifyCode       = "/verify_code"
	EndpointMeBusinesses     = "/me?fields=businesses{whatsapp_business_accounts}"
)

// Inbound message types as delivered by the provider.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeDocument = "document"
	MessageTypeAudio    = "audio"
	MessageTypeVideo    = "video"
	MessageTypeSticker  = "sticker"
	MessageTypeTemplate = "template"
)

// Delivery statuses reported in webhook status items.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)
