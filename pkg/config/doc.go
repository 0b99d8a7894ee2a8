// Package config loads and validates emusync configuration files.
//
// A configuration file is YAML with four sections:
//
//	telemetry:
//	  logging:
//	    level: debug
//	engine:
//	  frame_interval: 16ms
//	  queue_size: 16
//	  image: roms/demo.z64
//	video:
//	  width: 640
//	  height: 480
//	script:
//	  timeout: 1m
//
// Keys absent from the file keep the values from Default. Watcher reloads the
// file on change so that settings such as the log level can be applied to a
// running session.
package config
