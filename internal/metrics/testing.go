/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import "github.com/prometheus/client_golang/prometheus"

// GetPublishMetricForTesting returns the underlying Prometheus metric collector for testing purposes.
// This function should only be used in tests.
func GetPublishMetricForTesting(metricName string) prometheus.Collector {
	switch metricName {
	case "publish_requests_total":
		return publishRequestsTotal
	case "publish_request_duration_seconds":
		return publishRequestDurationSeconds
	case "publish_queue_depth":
		return publishQueueDepth
	case "publish_in_flight":
		return publishInFlight
	case "scm_rate_limit_remaining":
		return scmRateLimitRemaining
	case "host_events_total":
		return hostEventsTotal
	case "publish_problems_total":
		return ProblemsRecorded
	default:
		return nil
	}
}
