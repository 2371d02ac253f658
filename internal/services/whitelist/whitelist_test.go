package whitelist

import (
	"context"
	"errors"
	"testing"

	"email-payment-gateway/internal/repository"
	"email-payment-gateway/internal/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFilter(t *testing.T) {
	Convey("Given a whitelist", t, func() {
		db := testutil.NewDB(t)
		ctx := context.Background()
		repo := repository.NewWhitelistRepository(db)

		Convey("When it is empty", func() {
			Convey("senders are rejected by default", func() {
				err := NewFilter(repo, false).Check(ctx, "alerts@gtbank.com")
				var untrusted *UntrustedSenderError
				So(errors.As(err, &untrusted), ShouldBeTrue)
				So(untrusted.Sender, ShouldEqual, "alerts@gtbank.com")
			})

			Convey("senders are accepted when configured to", func() {
				So(NewFilter(repo, true).Check(ctx, "anyone@example.com"), ShouldBeNil)
			})
		})

		Convey("When it has entries", func() {
			testutil.Whitelist(t, db, "Alerts@GTBank.com", "@kuda.com", "moniepoint")
			f := NewFilter(repo, false)

			So(f.Check(ctx, "alerts@gtbank.com"), ShouldBeNil)
			So(f.Check(ctx, "GTBank Alerts <ALERTS@gtbank.com>"), ShouldBeNil)
			So(f.Check(ctx, "no-reply@kuda.com"), ShouldBeNil)
			So(f.Check(ctx, "notify@moniepoint.ng"), ShouldBeNil)

			So(f.Check(ctx, "other@gtbank.com"), ShouldNotBeNil)
			So(f.Check(ctx, "x@kuda.com.evil.io"), ShouldNotBeNil)
			So(f.Check(ctx, ""), ShouldNotBeNil)
		})

		Convey("Updates apply on the next check", func() {
			f := NewFilter(repo, false)
			So(f.Check(ctx, "alerts@gtbank.com"), ShouldNotBeNil)

			testutil.Whitelist(t, db, "@gtbank.com")
			So(f.Check(ctx, "alerts@gtbank.com"), ShouldBeNil)
		})
	})
}

func TestAddress(t *testing.T) {
	Convey("Sender headers reduce to a bare address", t, func() {
		So(Address("GTBank <Alerts@GTBank.com>"), ShouldEqual, "alerts@gtbank.com")
		So(Address(" alerts@kuda.com "), ShouldEqual, "alerts@kuda.com")
		So(Address("broken <alerts@bank"), ShouldEqual, "broken <alerts@bank")
	})
}
