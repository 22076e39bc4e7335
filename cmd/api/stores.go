package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/dgraph-io/badger/v4"

	"github.com/zhouzirui/tavern-room/backend/internal/config"
	"github.com/zhouzirui/tavern-room/backend/internal/service/directory"
	"github.com/zhouzirui/tavern-room/backend/internal/service/history"
	"github.com/zhouzirui/tavern-room/backend/internal/service/profile"
	"github.com/zhouzirui/tavern-room/backend/internal/storage"
)

// stores bundles the session directory, message log and user profiles picked
// by configuration.
type stores struct {
	directory directory.Directory
	messages  history.Log
	profiles  profile.Store
	db        *badger.DB
}

func (s *stores) Close() error {
	err := errors.Join(s.directory.Close(), s.messages.Close(), s.profiles.Close())
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}

func openStores(ctx context.Context, cfg config.StorageConfig) (*stores, error) {
	s := &stores{}

	switch cfg.Driver {
	case config.DriverBadger:
		db, err := storage.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.directory = directory.NewBadger(db)
		s.messages = history.NewBadger(db)
		s.profiles = profile.NewBadger(db)
	default:
		s.directory = directory.NewMemory()
		s.messages = history.NewMemory()
		s.profiles = profile.NewMemory()
		log.Println("[storage] using in-memory storage, data is lost on restart")
	}

	if cfg.HistoryDriver == config.DriverDynamoDB {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("load aws config: %w", err), s.Close())
		}
		messages, err := history.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
		if err != nil {
			return nil, errors.Join(err, s.Close())
		}
		s.messages = messages
		log.Printf("[storage] message history in dynamodb table %s", cfg.DynamoDBTable)
	}

	return s, nil
}
