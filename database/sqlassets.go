package sqlassets

import _ "embed"

//go:embed schema/platform/courses.sql
var CoursesSQL string

//go:embed schema/platform/id_counters.sql
var IDCountersSQL string
