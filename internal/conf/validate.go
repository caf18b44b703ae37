package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ValidateSettings checks the loaded settings for inconsistencies. All
// problems are collected and returned as one joined error.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if settings.Main.Name == "" {
		errs = append(errs, errors.New("main.name must not be empty"))
	}

	if _, err := strconv.Atoi(settings.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", settings.Server.Port))
	}

	if settings.Database.SQLite.Enabled && settings.Database.MySQL.Enabled {
		errs = append(errs, errors.New("only one of database.sqlite and database.mysql may be enabled"))
	}
	if !settings.Database.SQLite.Enabled && !settings.Database.MySQL.Enabled {
		errs = append(errs, errors.New("one of database.sqlite and database.mysql must be enabled"))
	}
	if settings.Database.SQLite.Enabled && settings.Database.SQLite.Path == "" {
		errs = append(errs, errors.New("database.sqlite.path must not be empty"))
	}

	if settings.MQTT.Enabled {
		if _, err := url.Parse(settings.MQTT.Broker); err != nil || settings.MQTT.Broker == "" {
			errs = append(errs, fmt.Errorf("mqtt.broker %q is not a valid URL", settings.MQTT.Broker))
		}
		if settings.MQTT.TopicPrefix == "" {
			errs = append(errs, errors.New("mqtt.topicprefix must not be empty"))
		}
	}

	if settings.Patrol.GeofenceToleranceMeters <= 0 {
		errs = append(errs, errors.New("patrol.geofencetolerancemeters must be positive"))
	}
	if settings.Patrol.StalenessWindow <= 0 {
		errs = append(errs, errors.New("patrol.stalenesswindow must be positive"))
	}
	if settings.Patrol.BroadcastInterval <= 0 {
		errs = append(errs, errors.New("patrol.broadcastinterval must be positive"))
	}
	if settings.Patrol.NearestResponders <= 0 {
		errs = append(errs, errors.New("patrol.nearestresponders must be positive"))
	}

	if settings.Agent.ServerURL != "" {
		if _, err := url.ParseRequestURI(settings.Agent.ServerURL); err != nil {
			errs = append(errs, fmt.Errorf("agent.serverurl %q is not a valid URL", settings.Agent.ServerURL))
		}
	}

	return errors.Join(errs...)
}
