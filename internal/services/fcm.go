package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// RouteNotice tells one officer about their stops for a plan date
type RouteNotice struct {
	OfficerID    string
	Tokens       []string
	PlanDate     string
	RouteGroupID string
	TotalBins    int
}

// Notifier pushes route assignments to officer devices
type Notifier interface {
	NotifyRouteAssigned(ctx context.Context, notice RouteNotice) error
}

// FCMService handles Firebase Cloud Messaging
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(ctx context.Context, credentialsFile string) (*FCMService, error) {
	return newFCMService(ctx, option.WithCredentialsFile(credentialsFile))
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
// This is useful for cloud deployments where you can't upload files easily
func NewFCMServiceFromBase64(ctx context.Context, credentialsBase64 string) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(ctx, option.WithCredentialsJSON(credentialsJSON))
}

func newFCMService(ctx context.Context, opt option.ClientOption) (*FCMService, error) {
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMService{client: client}, nil
}

// RouteAssignedMessage builds the multicast push for one officer
func RouteAssignedMessage(notice RouteNotice) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: notice.Tokens,
		Notification: &messaging.Notification{
			Title: "New Route Assigned!",
			Body:  fmt.Sprintf("You have %d bins to collect on %s.", notice.TotalBins, notice.PlanDate),
		},
		Data: map[string]string{
			"type":           "route_assigned",
			"plan_date":      notice.PlanDate,
			"route_group_id": notice.RouteGroupID,
			"total_bins":     strconv.Itoa(notice.TotalBins),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}
}

// NotifyRouteAssigned sends the route push to every device of one officer
func (s *FCMService) NotifyRouteAssigned(ctx context.Context, notice RouteNotice) error {
	if len(notice.Tokens) == 0 {
		return nil
	}

	response, err := s.client.SendEachForMulticast(ctx, RouteAssignedMessage(notice))
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.Printf("✅ FCM route notice to %s: %d success, %d failures", notice.OfficerID, response.SuccessCount, response.FailureCount)
	return nil
}

// LogNotifier logs notices when Firebase is not configured
type LogNotifier struct{}

func (LogNotifier) NotifyRouteAssigned(_ context.Context, notice RouteNotice) error {
	log.Printf("📱 [FCM disabled] Route notice for %s: %d bins on %s (%d devices)", notice.OfficerID, notice.TotalBins, notice.PlanDate, len(notice.Tokens))
	return nil
}
