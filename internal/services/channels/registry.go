package channels

import (
	"log"

	"intercity-backend/internal/config"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"
)

// FromConfig собирает каналы доставки по конфигурации. Каналы без настроек
// не попадают в набор, и диспетчер пропускает их. Второй результат -
// операторский чат для оповещений о сбоях доставки
func FromConfig(cfg config.Config, notifications repository.NotificationRepository, hub userPusher, clock utils.Clock) (map[models.Channel]notification.ChannelSender, notification.ChannelSender) {
	senders := map[models.Channel]notification.ChannelSender{
		models.ChannelInApp: NewInAppChannel(notifications, hub, clock),
	}

	if cfg.FirebaseServerKey != "" {
		senders[models.ChannelPush] = NewPushChannel(cfg.FirebaseServerKey)
	} else {
		log.Println("Channels: FIREBASE_SERVER_KEY не задан, push отключен")
	}

	if cfg.SMTP.Host != "" && cfg.SMTP.From != "" {
		senders[models.ChannelEmail] = NewEmailChannel(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		log.Println("Channels: SMTP не настроен, email отключен")
	}

	var greenAPI *GreenAPIClient
	if cfg.GreenAPI.InstanceID != "" && cfg.GreenAPI.Token != "" {
		greenAPI = NewGreenAPIClient(cfg.GreenAPI.InstanceID, cfg.GreenAPI.Token, cfg.GreenAPI.BaseURL)
		senders[models.ChannelSMS] = NewWhatsAppChannel(greenAPI)
	} else {
		log.Println("Channels: Green API не настроен, sms отключен")
	}

	var chat notification.ChannelSender
	switch {
	case cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "":
		chat = NewTelegramChat(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	case greenAPI != nil && cfg.GreenAPI.OperatorChatID != "":
		chat = NewWhatsAppOperatorChat(greenAPI, cfg.GreenAPI.OperatorChatID)
	default:
		log.Println("Channels: операторский чат не настроен, оповещения пишутся в лог")
		chat = LogChat{}
	}
	senders[models.ChannelChat] = chat

	return senders, chat
}
