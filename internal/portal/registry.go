package portal

import (
	"time"

	"statement-dl/internal/lister"
)

const (
	// flatexPrepare hooks the document viewer so the PDF URL is captured
	// instead of opened in a popup.
	flatexPrepare = `(function() {
	DocumentViewer.display = function(a, b) {
		console.log(a);
		window.pdf_download_url = a;
	};
	return true;
})()`

	flatexReset = `(function() { window.pdf_download_url = ''; return true; })()`

	flatexTrigger = `(function() {
	const row = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	WebcoreUtils.addHiddenField(row, 'documentArchiveListTable.selectedRowIdx', '%d');
	ajaxEngine.submitForm(row, false);
	WebcoreUtils.removeHiddenField(row, 'documentArchiveListTable.selectedRowIdx');
	return true;
})()`

	flatexURLExpr = `window.pdf_download_url || ''`
)

func flatex(name, tld, userID, passwordID, buttonID string) Portal {
	return Portal{
		Name:        name,
		Institution: "flatex (" + tld + ")",
		StartURL:    "https://konto.flatex." + tld + "/",
		Login: Login{
			Ready:     `//input[@id="loginForm_` + userID + `"]`,
			User:      `//input[@id="loginForm_` + userID + `"]`,
			Password:  `//input[@id="loginForm_` + passwordID + `"]`,
			Submit:    `//input[@id="loginForm_` + buttonID + `"]`,
			LoggedIn:  `//td[@id="menu_mailMenu"]`,
			DoneTitle: "Onlinebanking",
			Timeout:   300 * time.Second,
		},
		DocumentsNav: []string{
			`//td[@id="menu_mailMenu"]`,
			`//*[text()="Dokumentenarchiv"]`,
		},
		DocumentsReady: `//form[@id="documentArchiveListForm"]`,
		Paging:         PagingDateNarrowing,
		Filter: Filter{
			ReadState:       `//div[contains(@id, "readState")]`,
			ReadStateAll:    `//div[@id="documentArchiveListForm_readState_item_0"]`,
			ReadStateUnread: `//div[@id="documentArchiveListForm_readState_item_2"]`,
			RangePicker:     `//*[@id="documentArchiveListForm_dateRangeComponent_retrievalPeriodSelection"]`,
			RangeIndividual: `//*[@id="documentArchiveListForm_dateRangeComponent_retrievalPeriodSelection_item_6"]`,
			From:            `//input[contains(@id, "dateRangeComponent_startDate")]`,
			To:              `//input[contains(@id, "dateRangeComponent_endDate")]`,
			Apply:           `//input[contains(@id, "applyFilterButton")]`,
			StaleTimeout:    5 * time.Second,
		},
		Listing: Listing{
			Rows:            `//table[@class="Data"]/tbody/tr`,
			DateCol:         2,
			CategoryCol:     3,
			TitleCol:        4,
			Empty:           `//div[text()="Keine Dokumente vorhanden."]`,
			Cap:             lister.DefaultCap,
			TruncatedBanner: `//div[text()="Es werden nur die ersten 100 Dokumente dargestellt."]`,
			Order:           lister.Descending,
			// the listing can show more documents of one day than fit
			// before the cap, so the boundary date is queried again
			Boundary: lister.RequeryBoundary,
		},
		Download: Download{
			Mode:    DownloadScriptURL,
			BaseURL: "https://konto.flatex." + tld,
			Prepare: flatexPrepare,
			Reset:   flatexReset,
			Trigger: flatexTrigger,
			URLExpr: flatexURLExpr,
			Timeout: 60 * time.Second,
		},
		Logout:       `//div[contains(@class, "LogoutArea")]`,
		RetryOverlay: `//input[@id="previousActionNotFinishedOverlayForm_retryButton"]`,
	}
}

func init() {
	Register(flatex("flatex-at", "at", "userId", "pin", "loginButton"))
	Register(flatex("flatex-de", "de", "txtUserId", "txtPassword_txtPassword", "btnLogin"))

	Register(Portal{
		Name:        "bawag-psk",
		Institution: "BAWAG P.S.K.",
		StartURL:    "https://ebanking.bawagpsk.com",
		Login: Login{
			Ready:     `//button[text()="LOGIN"]`,
			User:      `//div[@class="form-wrap"]/input[1]`,
			Password:  `//div[@class="form-wrap"]/input[2]`,
			Submit:    `//button[text()="LOGIN"]`,
			LoggedIn:  `//a[text()="Kontoauszugsliste"]`,
			DoneStale: true,
			Timeout:   300 * time.Second,
		},
		DocumentsNav:   []string{`//a[text()="Kontoauszugsliste"]`},
		Confirm:        `//div[@id="confirm-container"]`,
		ConfirmTimeout: 300 * time.Second,
		DocumentsReady: `//a[text()="anfordern"]`,
		Paging:         PagingNextButton,
		Listing: Listing{
			Rows:          `//table[contains(@class, "sort-table")]/tbody/tr`,
			DateCol:       2,
			CategoryCol:   -1,
			TitleCol:      -1,
			FixedCategory: "Kontoauszug",
			FixedTitle:    "Kontoauszug",
			NextButton:    `//div[contains(@class, "footer")]/a[span[text()="weiter"]]`,
			NextDisabled:  `//div[contains(@class, "footer")]/a[span[text()="weiter"] and contains(@class, "disabled")]`,
		},
		Download: Download{
			Mode:    DownloadClick,
			RowLink: `//a[text()="anfordern"]`,
			Timeout: 30 * time.Second,
		},
	})
}
