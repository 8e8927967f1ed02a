// Package config loads activityz settings from YAML and turns them into
// process state: the default id format and a set of sampling listeners.
//
// Loading follows a fixed sequence:
//
//  1. Parse YAML
//  2. Apply defaults
//  3. Apply ACTIVITYZ_* environment overrides (LoadWithEnvOverrides only)
//  4. Validate
//
// A minimal file:
//
//	id_format: w3c
//	sampling:
//	  rules:
//	    - source: checkout
//	      result: recorded
//	    - source: "*"
//	      result: propagation
//	      ratio: 0.1
//
// Rules with source "*" become wildcard listeners, which vote only when no
// rule for the specific source asked for the activity.
//
// Watcher reloads the file on change and hands the new Config to a callback,
// typically RuleSampler.Reload.
package config
