// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository at
// https://github.com/hyperledger-labs/perun-appchannel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger-labs/perun-appchannel/metrics"
)

func Test_Collector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New(reg)
	require.NoError(t, err)

	c.StartRun("install", "initiator")(nil)
	c.StartRun("install", "initiator")(errors.New("timeout"))
	done := c.StartRun("sync", "responder")
	c.DroppedMessage("unmatched-reply")

	count, err := testutil.GatherAndCount(reg, "appchannel_protocol_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = testutil.GatherAndCount(reg, "appchannel_protocols_in_flight")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	done(nil)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `appchannel_protocol_runs_total{protocol="install",result="failure",role="initiator"} 1`)
	assert.Contains(t, rec.Body.String(), `appchannel_dropped_messages_total{reason="unmatched-reply"} 1`)
	assert.Contains(t, rec.Body.String(), `appchannel_protocols_in_flight 0`)

	_, err = metrics.New(reg)
	assert.Error(t, err)
}

func Test_Collector_Nil(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.StartRun("setup", "initiator")(nil)
		c.DroppedMessage("x")
	})
}
