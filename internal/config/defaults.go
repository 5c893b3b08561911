package config

import "github.com/spf13/viper"

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("bot.token", "")
	v.SetDefault("bot.timezone", "Asia/Ho_Chi_Minh")
	v.SetDefault("bot.feedback_chat_id", 0)
	v.SetDefault("bot.poll_timeout", 60)
	v.SetDefault("bot.debug", false)

	v.SetDefault("ci.base_url", "")
	v.SetDefault("ci.user", "")
	v.SetDefault("ci.token", "")
	v.SetDefault("ci.rate_limit", 10.0)
	v.SetDefault("ci.request_timeout", "30s")
	v.SetDefault("ci.parameter_name", "VERSION")
	v.SetDefault("ci.default_role", "dev")

	v.SetDefault("catalog.root", "")
	v.SetDefault("catalog.search_roots", []string{})
	v.SetDefault("catalog.max_depth", 8)
	v.SetDefault("catalog.page_size", 10)
	v.SetDefault("catalog.parameterized", []string{})

	v.SetDefault("search.workers", 8)
	v.SetDefault("search.permits", 4)
	v.SetDefault("search.timeout", "60s")
	v.SetDefault("search.cache_size", 128)
	v.SetDefault("search.cache_ttl", "10m")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.default_delay", "30m")

	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.max_job_id", 100000)

	v.SetDefault("refs.ttl", "24h")
	v.SetDefault("refs.sweep_interval", "10m")

	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.watch_ttl", "24h")
}
