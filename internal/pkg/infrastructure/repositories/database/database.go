package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/repositories/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//ErrNoSession is returned by GetSession when nobody is signed in
var ErrNoSession = errors.New("no stored session")

//Datastore is an interface that is used to inject the session store into the auth layer to improve testability
type Datastore interface {
	SaveSession(owner string, session models.Session) (*models.Session, error)
	GetSession(owner string) (*models.Session, error)
	DeleteSession(owner string) error
}

type myDB struct {
	impl *gorm.DB
	log  logging.Logger
}

//ConnectorFunc is used to inject a database connection method into NewDatabaseConnection
type ConnectorFunc func() (*gorm.DB, error)

//NewConnector picks a connector from the configured driver name
func NewConnector(driver, dsn string, log logging.Logger) (ConnectorFunc, error) {
	switch driver {
	case "postgres":
		return NewPostgreSQLConnector(dsn, log), nil
	case "sqlite":
		return NewSQLiteConnector(dsn), nil
	}
	return nil, fmt.Errorf("unsupported session driver: %s", driver)
}

//NewPostgreSQLConnector opens a connection to a postgresql database, retrying a few times while it starts up
func NewPostgreSQLConnector(dsn string, log logging.Logger) ConnectorFunc {
	return func() (*gorm.DB, error) {
		var err error
		for attempt := 1; attempt <= 5; attempt++ {
			log.Infof("Connecting to session database (attempt %d) ...", attempt)
			var db *gorm.DB
			db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Warn),
			})
			if err == nil {
				return db, nil
			}
			log.Errorf("Failed to connect to database %s", err)
			time.Sleep(3 * time.Second)
		}
		return nil, err
	}
}

//NewSQLiteConnector opens a connection to a sqlite database. Pass "file::memory:?cache=shared" for tests.
func NewSQLiteConnector(dsn string) ConnectorFunc {
	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})

		if err == nil {
			db.Exec("PRAGMA foreign_keys = ON")
		}

		return db, err
	}
}

//NewDatabaseConnection initializes a new connection to the database and wraps it in a Datastore
func NewDatabaseConnection(connect ConnectorFunc, log logging.Logger) (Datastore, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	if err := impl.AutoMigrate(&models.Session{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session table: %w", err)
	}

	return &myDB{impl: impl, log: log}, nil
}

func (db *myDB) SaveSession(owner string, src models.Session) (*models.Session, error) {
	session := &models.Session{}

	result := db.impl.Where("owner = ?", owner).First(session)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, result.Error
	}

	session.Owner = owner
	session.Token = src.Token
	session.Role = src.Role
	session.Subject = src.Subject
	session.ExpiresAt = src.ExpiresAt

	if err := db.impl.Save(session).Error; err != nil {
		db.log.Errorf("Failed to store session for %s: %s", owner, err.Error())
		return nil, err
	}

	return session, nil
}

func (db *myDB) GetSession(owner string) (*models.Session, error) {
	session := &models.Session{}

	result := db.impl.Where("owner = ?", owner).First(session)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNoSession
	} else if result.Error != nil {
		return nil, result.Error
	}

	return session, nil
}

func (db *myDB) DeleteSession(owner string) error {
	return db.impl.Unscoped().Where("owner = ?", owner).Delete(&models.Session{}).Error
}
