package remote

type WebhookDelivery struct {
	ID             string
	TripID         string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
