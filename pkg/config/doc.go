/*
Package config loads the robot agent configuration.

Precedence is defaults, then the optional YAML file passed to Load, then
CASARE_-prefixed environment variables. Interval variables are expressed in
seconds and accept fractional values (CASARE_POLL_INTERVAL=0.5).

The persistent robot identity lives in <data-dir>/robot_id and is generated
as a UUID on first run; CASARE_ROBOT_ID overrides it without touching the
file.
*/
package config
