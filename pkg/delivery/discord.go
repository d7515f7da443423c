package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// discordAPI is the subset of *discordgo.Session the sender uses.
type discordAPI interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordConfig configures the Discord sender.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`

	// DefaultChannelID receives notifications for recipients without a
	// directory entry.
	DefaultChannelID string `yaml:"default_channel_id"`
}

// DiscordSender posts PUSH notifications as embeds into Discord channels.
type DiscordSender struct {
	api            discordAPI
	session        *discordgo.Session
	directory      Directory
	defaultChannel string
}

// NewDiscordSender opens a bot session. directory maps recipient IDs to
// Discord channel IDs for the PUSH channel.
func NewDiscordSender(cfg DiscordConfig, directory Directory) (*DiscordSender, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &DiscordSender{api: session, session: session, directory: directory, defaultChannel: cfg.DefaultChannelID}, nil
}

// Channel returns PUSH.
func (s *DiscordSender) Channel() model.Channel { return model.ChannelPush }

// Send posts n as an embed. The REST call is bounded by ctx.
func (s *DiscordSender) Send(ctx context.Context, n *model.Notification) error {
	channelID := s.defaultChannel
	if s.directory != nil {
		if id, ok := s.directory.Address(n.RecipientID, model.ChannelPush); ok {
			channelID = id
		}
	}
	if channelID == "" {
		return fmt.Errorf("discord: no channel for recipient %s", n.RecipientID)
	}

	if _, err := s.api.ChannelMessageSendEmbed(channelID, buildEmbed(n), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send to %s: %w", channelID, err)
	}
	return nil
}

// Close closes the bot session.
func (s *DiscordSender) Close() error {
	if s.session != nil {
		return s.session.Close()
	}
	return nil
}

func buildEmbed(n *model.Notification) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Message,
		Color:       severityColor(n.Severity),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Severity", Value: string(n.Severity), Inline: true},
			{Name: "Kind", Value: string(n.Kind), Inline: true},
			{Name: "Recipient", Value: n.RecipientID, Inline: true},
		},
		Timestamp: n.CreatedAt.Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Sentinel " + n.ID},
	}
}

func severityColor(s severity.Level) int {
	switch s {
	case severity.Critical:
		return 0xE74C3C
	case severity.High:
		return 0xF39C12
	case severity.Medium:
		return 0xF1C40F
	default:
		return 0x3498DB
	}
}
