package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/pipeline"
)

// ProcessDocumentMsg is the wire format of a process_queue message.
type ProcessDocumentMsg struct {
	DocumentID int64  `json:"document_id"`
	DatasetID  string `json:"dataset_id,omitempty"`
}

// ProcessDocumentMessage runs the full pipeline for one queued document.
func ProcessDocumentMessage(ctx context.Context, orch *pipeline.Orchestrator, msg []byte) error {
	var data ProcessDocumentMsg
	if err := json.Unmarshal(msg, &data); err != nil {
		return fmt.Errorf("malformed process message: %w", err)
	}
	if data.DocumentID == 0 {
		return fmt.Errorf("process message has no document id")
	}

	logger.Info("[Queue] Processing document", "document", data.DocumentID, "dataset", data.DatasetID)
	return orch.ProcessDocument(ctx, data.DocumentID)
}

// PublishDocument enqueues one document for processing.
func PublishDocument(ch *amqp091.Channel, documentID int64, datasetID string) error {
	data, err := json.Marshal(ProcessDocumentMsg{DocumentID: documentID, DatasetID: datasetID})
	if err != nil {
		return err
	}
	return PublishFIFO(ch, ProcessQueue, data)
}
