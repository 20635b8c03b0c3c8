// Package config provides configuration parsing for the localstore CLI.
//
// The configuration is stored in localstore.json. Every field can be
// overridden by a LOCALSTORE_* environment variable; the variables win over
// the file.
//
// # Configuration File Structure
//
//	{
//	  "backend": "redis",
//	  "timeout": "2s",
//	  "tracing": true,
//	  "redis": {
//	    "addr": "localhost:6379",
//	    "prefix": "prefs:"
//	  },
//	  "sql": {
//	    "driver": "sqlite",
//	    "dsn": "localstore.db"
//	  },
//	  "relay": {
//	    "url": "ws://localhost:7420/relay"
//	  },
//	  "server": {
//	    "port": 7420
//	  },
//	  "metrics": {
//	    "enabled": true
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Backend:", cfg.Backend)
package config
