package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/kwhitfield/bastion/internal/models"
)

// SESBanNotifier emails an account's owner when their principal gets banned
// by the lockout tracker. Delivery is best-effort; a notification failure
// never affects the authentication outcome.
type SESBanNotifier struct {
	sesClient   *ses.Client
	users       UserRepository
	fromAddress string
	logger      *slog.Logger
}

func NewSESBanNotifier(region, fromAddress string, users UserRepository, logger *slog.Logger) (*SESBanNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESBanNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		users:       users,
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// NotifyBan sends the lockout notice. The principal key is a username for
// password logins; principals that do not map to an account are skipped.
func (n *SESBanNotifier) NotifyBan(ctx context.Context, principalKey string, banDuration time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	user, err := n.users.GetByUsername(ctx, principalKey)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			n.logger.Error("failed to resolve banned principal for notification", slog.Any("error", err))
		}
		return
	}
	if user.Email == "" {
		return
	}

	minutes := int(banDuration.Round(time.Minute) / time.Minute)
	textBody := fmt.Sprintf(`Sign-in to your account has been temporarily blocked.

We detected several failed sign-in attempts and have paused new attempts
for about %d minute(s). No action is required; sign-in will work again
once the pause expires.

If these attempts were not yours, consider changing your password.
`, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Sign-in temporarily blocked"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	if _, err := n.sesClient.SendEmail(ctx, input); err != nil {
		n.logger.Error("failed to send ban notification",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return
	}

	n.logger.Info("ban notification sent", slog.String("user_id", user.ID))
}
