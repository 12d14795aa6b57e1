package reconcile

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/catalog_sync/config"
	"github.com/mmdatafocus/catalog_sync/models"
	"github.com/mmdatafocus/catalog_sync/utils"
	"github.com/sirupsen/logrus"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// SyncRequestPayload asks a worker instance to reconcile a scope.
type SyncRequestPayload struct {
	Scope         string `json:"scope"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

func syncTopicName() string {
	topic := strings.TrimSpace(os.Getenv("RECONCILE_SYNC_TOPIC"))
	if topic == "" {
		topic = "catalog-reconcile-sync"
	}
	return topic
}

// PublishSyncRequest hands a sync request to whichever instance receives the push.
func PublishSyncRequest(ctx context.Context, scope string) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := syncTopicName()
	topic := client.Topic(topicName)
	if config.EnvBoolDefault("RECONCILE_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(ctx, client, topicName)
		if err != nil {
			return err
		}
	}

	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	data, _ := json.Marshal(SyncRequestPayload{Scope: scope, CorrelationId: cid})
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// pushTokenValid checks the token configured on the push subscription's endpoint URL (?token=).
// An enabled endpoint without RECONCILE_PUSH_TOKEN accepts nothing.
func pushTokenValid(c *gin.Context) bool {
	want := strings.TrimSpace(os.Getenv("RECONCILE_PUSH_TOKEN"))
	if want == "" {
		return false
	}
	got := c.Query("token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// PubSubPushHandler runs the requested pass synchronously. Accepted messages always get 204 so
// Pub/Sub does not redeliver; failures are in the error log and the run history.
// The endpoint is off unless ENABLE_RECONCILE_PUBSUB_PUSH_ENDPOINT is set.
func PubSubPushHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_RECONCILE_PUBSUB_PUSH_ENDPOINT", false) {
			c.Status(http.StatusNoContent)
			return
		}
		if !pushTokenValid(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		if sub := strings.TrimSpace(os.Getenv("RECONCILE_PUSH_SUBSCRIPTION")); sub != "" && envelope.Subscription != sub {
			svc.logger.WithFields(logrus.Fields{"subscription": envelope.Subscription}).Warn("ignoring push from an unexpected subscription")
			c.Status(http.StatusNoContent)
			return
		}

		var payload SyncRequestPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if strings.TrimSpace(payload.Scope) == "" {
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		if payload.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
		}
		if run, err := svc.RunSync(ctx, payload.Scope, models.SyncTriggerPubSub); err != nil {
			config.LogError(svc.logger, "reconcile", "PubSubPushHandler", "run sync", run.ID, err)
		}
		c.Status(http.StatusNoContent)
	}
}
