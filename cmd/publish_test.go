package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-recommender/infrastructure"
)

func TestPublishLines(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	var bodies []string
	in := strings.NewReader("{\"cv_id\":\"cv-1\"}\n\n  {\"cv_id\":\"cv-2\"}  \n")
	n, err := publishLines(cmd, in, func(body []byte) error {
		bodies = append(bodies, string(body))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{`{"cv_id":"cv-1"}`, `{"cv_id":"cv-2"}`}, bodies)
	assert.Equal(t, "published 2 events\n", out.String())
}

func TestPublishLinesStopsAtInvalidJSON(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	n, err := publishLines(cmd, strings.NewReader("{\"job_id\":\"job-1\"}\nnot json\n{}\n"), func([]byte) error { return nil })

	assert.Equal(t, 1, n)
	assert.ErrorContains(t, err, "line 2")
}

func TestPublishLinesReportsBrokerError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	n, err := publishLines(cmd, strings.NewReader("{}\n"), func([]byte) error { return errors.New("channel closed") })

	assert.Zero(t, n)
	assert.ErrorContains(t, err, "channel closed")
}

func TestRoutesForMapsEveryRoutingKey(t *testing.T) {
	broker, err := infrastructure.LoadBrokerConfig(infrastructure.NewViper())
	require.NoError(t, err)

	routes := routesFor(broker)
	assert.Equal(t, "embedding.cv", routes.ResumeEmbedding)
	assert.Equal(t, "embedding.jd", routes.JobEmbedding)
	assert.Equal(t, "embedding.application.status", routes.ApplicationStatus)
	assert.Equal(t, "embedding.delete.jd", routes.DeleteJob)
	assert.Equal(t, "embedding.delete.queue", routes.DeleteQueue)
}
