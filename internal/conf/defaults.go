// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "GuardTrack")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/guardtrack.log")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "guardtrack.db")
	viper.SetDefault("database.mysql.enabled", false)
	viper.SetDefault("database.mysql.username", "guardtrack")
	viper.SetDefault("database.mysql.password", "secret")
	viper.SetDefault("database.mysql.database", "guardtrack")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")

	viper.SetDefault("mqtt.enabled", true)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.topicprefix", "guardtrack")

	viper.SetDefault("patrol.geofencetolerancemeters", 50.0)
	viper.SetDefault("patrol.stalenesswindow", "5m")
	viper.SetDefault("patrol.broadcastinterval", "5s")
	viper.SetDefault("patrol.nearestresponders", 3)

	viper.SetDefault("agent.serverurl", "http://localhost:8080")
	viper.SetDefault("agent.queuepath", "agent-queue.db")
	viper.SetDefault("agent.draininterval", "15m")
	viper.SetDefault("agent.httptimeout", "30s")
}
