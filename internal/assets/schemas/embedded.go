// Package schemasassets provides embedded JSON schemas.
//
// Schemas are embedded at compile time so validation works regardless of
// the working directory or installation location.
package schemasassets

import _ "embed"

// JenkinsNotificationSchema validates build events posted by the Jenkins
// Notification plugin.
//
//go:embed jenkins-notification.schema.json
var JenkinsNotificationSchema []byte
