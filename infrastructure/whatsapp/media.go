package whatsapp

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/zapfunnel/zapfunnel/domains/crm"
	"github.com/zapfunnel/zapfunnel/infrastructure/objstore"
)

// Placeholders stored when media cannot be downloaded or re-uploaded. The
// conversation keeps a readable trace instead of a broken row.
var mediaPlaceholders = map[crm.ContentType]string{
	crm.ContentImage:    "[imagem indisponível]",
	crm.ContentVideo:    "[vídeo indisponível]",
	crm.ContentAudio:    "[áudio indisponível]",
	crm.ContentDocument: "[documento indisponível]",
	crm.ContentSticker:  "[figurinha indisponível]",
}

// resolveMedia downloads the message's media payload and re-uploads it to
// object storage, returning the public URL. Any failure degrades to a text
// placeholder: media loss must never drop the message itself.
func (p *Pipeline) resolveMedia(ctx context.Context, sess *Session, evt *events.Message, content *string, contentType *crm.ContentType) string {
	downloadable, mimeType := downloadableOf(evt)
	if downloadable == nil {
		return ""
	}

	fallback := func(reason string, err error) string {
		logrus.WithError(err).Warnf("[PIPELINE] %s media for %s: %s, storing placeholder",
			sess.ConnectionID, evt.Info.ID, reason)
		if *content == "" {
			*content = mediaPlaceholders[*contentType]
		}
		return ""
	}

	if p.store == nil {
		return fallback("object storage disabled", nil)
	}

	data, err := sess.client.Download(ctx, downloadable)
	if err != nil {
		return fallback("download failed", err)
	}

	key := objstore.BuildKey(sess.ConnectionID, string(evt.Info.ID), mimeType)
	url, err := p.store.Upload(ctx, key, data, mimeType)
	if err != nil {
		return fallback("upload failed", err)
	}
	return url
}

// downloadableOf returns the downloadable proto section and its mime type.
func downloadableOf(evt *events.Message) (whatsmeow.DownloadableMessage, string) {
	msg := evt.Message
	if msg == nil {
		return nil, ""
	}
	if img := msg.GetImageMessage(); img != nil {
		return img, img.GetMimetype()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid, vid.GetMimetype()
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return aud, aud.GetMimetype()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc, doc.GetMimetype()
	}
	if stk := msg.GetStickerMessage(); stk != nil {
		return stk, stk.GetMimetype()
	}
	return nil, ""
}
