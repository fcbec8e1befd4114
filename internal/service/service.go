package service

import (
	"github.com/charmbracelet/log"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/inference"
	"github.com/xiaot623/gogo/chatrelay/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/repository"
)

type Service struct {
	store        store.Store
	gateway      inference.Gateway
	objects      objectstore.ObjectStore
	tokens       *auth.Tokens
	policyEngine *policy.Engine
	uploader     *AttachmentUploader
	config       *config.Config
	log          *log.Logger
}

func New(store store.Store, gateway inference.Gateway, objects objectstore.ObjectStore, tokens *auth.Tokens, policyEngine *policy.Engine, uploader *AttachmentUploader, cfg *config.Config, logger *log.Logger) *Service {
	return &Service{
		store:        store,
		gateway:      gateway,
		objects:      objects,
		tokens:       tokens,
		policyEngine: policyEngine,
		uploader:     uploader,
		config:       cfg,
		log:          logger,
	}
}
