package services

import (
	"github.com/credstack/credstack/config"
	"github.com/credstack/credstack/interfaces"
	"github.com/credstack/credstack/internal/crypto"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/services/access"
	"github.com/credstack/credstack/services/broadcast"
	"github.com/credstack/credstack/services/linkregistry"
	"github.com/credstack/credstack/services/mailreader"
	"github.com/credstack/credstack/services/notify"
	"github.com/credstack/credstack/services/otp"
	"github.com/credstack/credstack/services/vault"
)

type Services struct {
	AccessController    interfaces.AccessController
	CredentialStore     interfaces.CredentialStore
	MailboxLinkRegistry interfaces.MailboxLinkRegistry
	OTPScheduler        interfaces.OTPScheduler
	Notifier            interfaces.Notifier
	Hub                 *broadcast.Hub
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, cipher *crypto.Cipher) (*Services, error) {
	accessController := access.NewAccessControllerService(repos, log)
	credentialStore := vault.NewCredentialStoreService(repos, cipher, accessController, log)

	clientFactory := mailreader.NewIMAPClientFactory(cfg.SchedulerConfig.FetchTimeout, log)
	linkRegistry := linkregistry.NewMailboxLinkRegistryService(repos, cipher, clientFactory, cfg.SchedulerConfig.FailureThreshold, log)

	var notifier interfaces.Notifier
	if cfg.AppConfig.RabbitMQURL != "" {
		publisherConfig := &notify.PublisherConfig{
			MessageTTL:          notify.DefaultMessageTTL,
			MaxRetries:          notify.DefaultMaxRetries,
			PublishTimeout:      notify.DefaultPublishTimeout,
			ReconnectBackoff:    notify.DefaultReconnectBackoff,
			MaxReconnectBackoff: notify.DefaultMaxReconnectBackoff,
		}
		rabbitNotifier, err := notify.NewRabbitMQNotifier(cfg.AppConfig.RabbitMQURL, log, publisherConfig)
		if err != nil {
			return nil, err
		}
		notifier = rabbitNotifier
	} else {
		log.Warn("RABBITMQ_URL not set, link notifications go to logs only")
		notifier = notify.NewLogNotifier(log)
	}

	hub := broadcast.NewHub(accessController, log)
	extractor := otp.NewExtractor()
	scheduler := otp.NewOTPSchedulerService(cfg.SchedulerConfig, linkRegistry, credentialStore, extractor, hub, notifier, log)

	services := Services{
		AccessController:    accessController,
		CredentialStore:     credentialStore,
		MailboxLinkRegistry: linkRegistry,
		OTPScheduler:        scheduler,
		Notifier:            notifier,
		Hub:                 hub,
	}

	return &services, nil
}
