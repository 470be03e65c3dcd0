package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"chatrelay/internal/protocol"
	"chatrelay/internal/service"
	"chatrelay/pkg/types"
)

type sendMessageRequest struct {
	ReceiverID int64  `json:"receiverId"`
	GroupID    int64  `json:"groupId"`
	Content    string `json:"content"`
	Type       string `json:"type"`
}

func (d *Dispatcher) sendMessage(ctx context.Context, c *call) (*reply, error) {
	var in sendMessageRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("receiverId", in.ReceiverID); err != nil {
		return nil, err
	}
	msg, err := d.services.Messages.Send(ctx, service.Draft{
		SenderID:   c.userID,
		ReceiverID: in.ReceiverID,
		Type:       in.Type,
		Content:    in.Content,
	})
	if err != nil {
		return nil, err
	}
	d.notifier.NotifyUser(in.ReceiverID, protocol.NotifyNewMessage, msg)
	return &reply{message: "Message sent", data: map[string]interface{}{"message": msg}}, nil
}

func (d *Dispatcher) sendGroupMessage(ctx context.Context, c *call) (*reply, error) {
	var in sendMessageRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("groupId", in.GroupID); err != nil {
		return nil, err
	}
	msg, err := d.services.Messages.Send(ctx, service.Draft{
		SenderID: c.userID,
		GroupID:  in.GroupID,
		Type:     in.Type,
		Content:  in.Content,
	})
	if err != nil {
		return nil, err
	}
	d.notifyGroup(ctx, in.GroupID, c.userID, msg)
	return &reply{message: "Message sent", data: map[string]interface{}{"message": msg}}, nil
}

type historyRequest struct {
	GroupID int64 `json:"groupId"`
	UserID  int64 `json:"userId"`
	Limit   int   `json:"limit"`
}

func (d *Dispatcher) getMessages(ctx context.Context, c *call) (*reply, error) {
	var in historyRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}

	var (
		msgs []*types.Message
		err  error
	)
	if in.GroupID > 0 {
		msgs, err = d.services.Messages.GroupHistory(ctx, c.userID, in.GroupID, in.Limit)
	} else {
		if err := requireID("userId", in.UserID); err != nil {
			return nil, err
		}
		msgs, err = d.services.Messages.PrivateHistory(ctx, c.userID, in.UserID, in.Limit)
	}
	if err != nil {
		return nil, err
	}
	return &reply{message: "Messages retrieved", data: map[string]interface{}{"messages": msgs}}, nil
}

type sendFileRequest struct {
	FileName   string `json:"fileName"`
	FileData   string `json:"fileData"`
	FileType   string `json:"fileType"`
	ReceiverID int64  `json:"receiverId"`
	GroupID    int64  `json:"groupId"`
}

func (d *Dispatcher) sendFile(ctx context.Context, c *call) (*reply, error) {
	var in sendFileRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if in.ReceiverID <= 0 && in.GroupID <= 0 {
		return nil, service.ErrMissingTarget
	}

	stored, err := d.services.Files.Save(in.FileName, in.FileData, in.FileType)
	if err != nil {
		return nil, err
	}

	draft := service.Draft{
		SenderID: c.userID,
		Type:     string(stored.Type),
		Content:  "File: " + stored.Name,
		FileURL:  stored.Path,
		FileName: stored.Name,
		FileSize: stored.Size,
	}
	if in.GroupID > 0 {
		draft.GroupID = in.GroupID
	} else {
		draft.ReceiverID = in.ReceiverID
	}

	msg, err := d.services.Messages.Send(ctx, draft)
	if err != nil {
		if rmErr := d.services.Files.Remove(stored.Path); rmErr != nil {
			d.logger.Warn("orphaned upload not removed", zap.String("path", stored.Path), zap.Error(rmErr))
		}
		return nil, err
	}

	if in.GroupID > 0 {
		d.notifyGroup(ctx, in.GroupID, c.userID, msg)
	} else {
		d.notifier.NotifyUser(in.ReceiverID, protocol.NotifyNewMessage, msg)
	}
	return &reply{message: "File sent", data: map[string]interface{}{"message": msg}}, nil
}

type receiveFileRequest struct {
	FilePath string `json:"filePath"`
}

func (d *Dispatcher) receiveFile(ctx context.Context, c *call) (*reply, error) {
	var in receiveFileRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	data, err := d.services.Files.Read(in.FilePath)
	if err != nil {
		return nil, err
	}
	return &reply{message: "File retrieved", data: map[string]interface{}{"fileData": data}}, nil
}

func (d *Dispatcher) notifyGroup(ctx context.Context, groupID, senderID int64, msg *types.Message) {
	if _, err := d.notifier.NotifyGroup(ctx, groupID, senderID, protocol.NotifyNewMessage, msg); err != nil {
		d.logger.Warn("group fan-out failed", zap.Int64("group_id", groupID), zap.Int64("user_id", senderID), zap.Error(err))
	}
}
