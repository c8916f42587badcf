// Package config provides configuration loading for the hotreload watcher.
//
// Configuration is read from hotreload.json (or .yaml/.toml) in the project
// directory, overridden by HOTRELOAD_* environment variables and by command
// line flags bound through BindFlags.
//
// # Configuration File Structure
//
//	{
//	  "root": "./src",
//	  "extensions": ["php", "inc"],
//	  "pollInterval": 1000,
//	  "debounceWindow": 1000,
//	  "notifyDisabled": false,
//	  "maxTracked": 0,
//	  "workerID": 0,
//	  "listen": "127.0.0.1:9310",
//	  "reload": {
//	    "signal": {"pid": 4242, "name": "USR1"},
//	    "exec": ["php", "server.php"],
//	    "broadcast": true,
//	    "s3": {"bucket": "deploy-markers", "prefix": "staging/", "region": "eu-west-1"}
//	  }
//	}
//
// Intervals are plain integers in milliseconds.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Root:", cfg.RootPath())
package config
