package ingest

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"email-payment-gateway/internal/logging"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	. "github.com/smartystreets/goconvey/convey"
)

const gtbankAlert = "From: GTBank Alerts <alerts@gtbank.com>\r\n" +
	"To: payments@example.com\r\n" +
	"Subject: GeNS Transaction Alert [Credit: NGN 5,000.00]\r\n" +
	"Message-ID: <alert-1@gtbank.com>\r\n" +
	"Date: Mon, 05 Jan 2026 10:00:00 +0100\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Amount : NGN 5,000.00=0D=0AAccount Number : 0123456789\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<table><tr><td>Amount</td><td>NGN 5,000.00</td></tr></table>\r\n" +
	"--b1--\r\n"

const bareAlert = "From: alerts@kuda.com\r\n" +
	"Subject: You just got paid\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"JOHN DOE just sent you N5,000.00\r\n"

func TestParseMIME(t *testing.T) {
	Convey("Given a multipart bank alert", t, func() {
		e, err := ParseMIME(strings.NewReader(gtbankAlert), SourceIMAP)
		So(err, ShouldBeNil)

		Convey("Headers are read and the date is UTC", func() {
			So(e.MessageID, ShouldEqual, "alert-1@gtbank.com")
			So(e.From, ShouldEqual, "alerts@gtbank.com")
			So(e.To, ShouldEqual, "payments@example.com")
			So(e.Subject, ShouldStartWith, "GeNS Transaction Alert")
			So(e.Date.Equal(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(e.Date.Location(), ShouldEqual, time.UTC)
			So(e.Source, ShouldEqual, SourceIMAP)
		})

		Convey("Transfer encoding is decoded and both bodies are kept", func() {
			So(e.Text, ShouldContainSubstring, "Amount : NGN 5,000.00\r\nAccount Number : 0123456789")
			So(e.HTML, ShouldContainSubstring, "<td>NGN 5,000.00</td>")
		})
	})

	Convey("A message without Message-ID gets a content hash", t, func() {
		e, err := ParseMIME(strings.NewReader(bareAlert), SourceFilesystem)
		So(err, ShouldBeNil)
		So(e.MessageID, ShouldStartWith, "sha256:")
		So(e.Text, ShouldContainSubstring, "JOHN DOE just sent you")

		again, _ := ParseMIME(strings.NewReader(bareAlert), SourceFilesystem)
		So(again.MessageID, ShouldEqual, e.MessageID)
	})
}

func TestContentHash(t *testing.T) {
	Convey("The content hash depends on the content only", t, func() {
		a := Email{From: "a@bank.com", Subject: "s", Text: "Amount 100", Ref: "1"}
		b := a
		b.Ref = "2"
		So(ContentHash(a), ShouldEqual, ContentHash(b))

		b.Text = "Amount 200"
		So(ContentHash(a), ShouldNotEqual, ContentHash(b))
	})
}

func TestDirProducer(t *testing.T) {
	Convey("Given a drop directory with two messages and a stray file", t, func() {
		dir := t.TempDir()
		So(os.WriteFile(filepath.Join(dir, "b.eml"), []byte(bareAlert), 0o644), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "a.eml"), []byte(gtbankAlert), 0o644), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644), ShouldBeNil)

		p := NewDirProducer(dir, logging.Discard())
		ctx := context.Background()

		emails, err := p.Fetch(ctx)
		So(err, ShouldBeNil)
		So(len(emails), ShouldEqual, 2)
		So(emails[0].MessageID, ShouldEqual, "alert-1@gtbank.com")
		So(emails[1].Date.IsZero(), ShouldBeFalse)

		Convey("Ack moves the file out of the way", func() {
			So(p.Ack(ctx, emails[0]), ShouldBeNil)
			_, err := os.Stat(filepath.Join(dir, "processed", "a.eml"))
			So(err, ShouldBeNil)

			left, err := p.Fetch(ctx)
			So(err, ShouldBeNil)
			So(len(left), ShouldEqual, 1)
			So(left[0].Source, ShouldEqual, SourceFilesystem)
		})
	})
}

func TestPushQueue(t *testing.T) {
	Convey("Given a queue of two", t, func() {
		q := NewPushQueue(2)
		ctx := context.Background()

		So(q.Push(Email{From: "a@bank.com", Text: "one"}), ShouldBeNil)
		So(q.Push(Email{MessageID: "<m2@bank.com>", Text: "two"}), ShouldBeNil)

		Convey("A third push is refused", func() {
			So(q.Push(Email{Text: "three"}), ShouldEqual, ErrQueueFull)
		})

		Convey("Fetch drains the queue in order", func() {
			emails, err := q.Fetch(ctx)
			So(err, ShouldBeNil)
			So(len(emails), ShouldEqual, 2)
			So(emails[0].Source, ShouldEqual, SourceWebhook)
			So(emails[0].MessageID, ShouldStartWith, "sha256:")
			So(emails[1].MessageID, ShouldEqual, "m2@bank.com")

			again, err := q.Fetch(ctx)
			So(err, ShouldBeNil)
			So(again, ShouldBeEmpty)
			So(q.Len(), ShouldEqual, 0)
		})
	})
}

func TestIMAPProducer(t *testing.T) {
	Convey("Given an IMAP server holding a bank alert", t, func() {
		be := memory.New()
		user, err := be.Login(nil, "username", "password")
		So(err, ShouldBeNil)
		mbox, err := user.GetMailbox("INBOX")
		So(err, ShouldBeNil)
		So(mbox.CreateMessage(nil, time.Now(), bytes.NewBufferString(gtbankAlert)), ShouldBeNil)

		s := server.New(be)
		s.AllowInsecureAuth = true
		l, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		go s.Serve(l)
		defer s.Close()

		p := NewIMAPProducer(IMAPOptions{
			Addr:     l.Addr().String(),
			Username: "username",
			Password: "password",
			Timeout:  5 * time.Second,
		}, logging.Discard())
		defer p.Close()
		ctx := context.Background()

		find := func(emails []Email) *Email {
			for i := range emails {
				if emails[i].MessageID == "alert-1@gtbank.com" {
					return &emails[i]
				}
			}
			return nil
		}

		emails, err := p.Fetch(ctx)
		So(err, ShouldBeNil)
		got := find(emails)
		So(got, ShouldNotBeNil)
		So(got.Source, ShouldEqual, SourceIMAP)
		So(got.Ref, ShouldNotBeEmpty)
		So(got.Text, ShouldContainSubstring, "Account Number : 0123456789")

		Convey("An acked message is not fetched again", func() {
			So(p.Ack(ctx, *got), ShouldBeNil)

			emails, err := p.Fetch(ctx)
			So(err, ShouldBeNil)
			So(find(emails), ShouldBeNil)
		})

		Convey("Wrong credentials fail the fetch", func() {
			bad := NewIMAPProducer(IMAPOptions{
				Addr:     l.Addr().String(),
				Username: "username",
				Password: "nope",
				Timeout:  5 * time.Second,
			}, logging.Discard())
			_, err := bad.Fetch(ctx)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "imap login")
		})
	})
}
