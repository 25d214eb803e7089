package rentals

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"stay_sync/internal/domain"
)

/********** requests **********/

type authentication struct {
	UserName string `xml:"UserName"`
	Password string `xml:"Password"`
}

type calendarRQ struct {
	XMLName        xml.Name       `xml:"Pull_ListPropertyAvailabilityCalendar_RQ"`
	Authentication authentication `xml:"Authentication"`
	PropertyID     string         `xml:"PropertyID"`
	DateFrom       string         `xml:"DateFrom"`
	DateTo         string         `xml:"DateTo"`
}

type pricesRQ struct {
	XMLName          xml.Name       `xml:"Pull_ListPropertyPrices_RQ"`
	Authentication   authentication `xml:"Authentication"`
	PropertyID       string         `xml:"PropertyID"`
	DateFrom         string         `xml:"DateFrom"`
	DateTo           string         `xml:"DateTo"`
	PricingModelMode int            `xml:"PricingModelMode"`
}

type stayCosts struct {
	RUPrice           string `xml:"RUPrice"`
	ClientPrice       string `xml:"ClientPrice"`
	AlreadyPaid       string `xml:"AlreadyPaid"`
	ChannelCommission string `xml:"ChannelCommission"`
}

type stayInfo struct {
	PropertyID     string    `xml:"PropertyID"`
	DateFrom       string    `xml:"DateFrom"`
	DateTo         string    `xml:"DateTo"`
	NumberOfGuests int       `xml:"NumberOfGuests"`
	Costs          stayCosts `xml:"Costs"`
}

type customerInfo struct {
	Name    string `xml:"Name"`
	SurName string `xml:"SurName"`
	Email   string `xml:"Email"`
	Phone   string `xml:"Phone"`
}

type putReservationRQ struct {
	XMLName        xml.Name       `xml:"Push_PutConfirmedReservationMulti_RQ"`
	Authentication authentication `xml:"Authentication"`
	Reservation    struct {
		StayInfos struct {
			StayInfo []stayInfo `xml:"StayInfo"`
		} `xml:"StayInfos"`
		CustomerInfo customerInfo `xml:"CustomerInfo"`
		Comments     string       `xml:"Comments,omitempty"`
	} `xml:"Reservation"`
}

type cancelReservationRQ struct {
	XMLName        xml.Name       `xml:"Push_CancelReservation_RQ"`
	Authentication authentication `xml:"Authentication"`
	ReservationID  string         `xml:"ReservationID"`
	CancelTypeID   int            `xml:"CancelTypeID"`
}

/********** responses **********/

// rsStatus is the <Status ID="0">Success</Status> element every response carries.
type rsStatus struct {
	ID      string `xml:"ID,attr"`
	Message string `xml:",chardata"`
}

func (s rsStatus) ok() bool {
	id := strings.TrimSpace(s.ID)
	return id == "" || id == "0"
}

type statusCarrier interface{ status() (rsStatus, *rsStatus) }

type baseRS struct {
	Status rsStatus  `xml:"Status"`
	Error  *rsStatus `xml:"error"`
}

func (b baseRS) status() (rsStatus, *rsStatus) { return b.Status, b.Error }

// calDay accepts Date/Units both as attributes and as child elements;
// the provider has emitted both shapes.
type calDay struct {
	DateAttr  string `xml:"Date,attr"`
	DateElem  string `xml:"Date"`
	UnitsAttr string `xml:"Units,attr"`
	UnitsElem string `xml:"Units"`
	IsBlocked string `xml:"IsBlocked"`
}

type calendarRS struct {
	baseRS
	PropertyCalendar *struct {
		PropertyID string   `xml:"PropertyID,attr"`
		CalDays    []calDay `xml:"CalDay"`
	} `xml:"PropertyCalendar"`
}

type season struct {
	DateFromAttr string `xml:"DateFrom,attr"`
	DateFromElem string `xml:"DateFrom"`
	DateToAttr   string `xml:"DateTo,attr"`
	DateToElem   string `xml:"DateTo"`
	Price        string `xml:"Price"`
	Text         string `xml:",chardata"`
}

type pricesRS struct {
	baseRS
	Prices *struct {
		Seasons []season `xml:"Season"`
	} `xml:"Prices"`
}

type putReservationRS struct {
	baseRS
	ReservationID string `xml:"ReservationID"`
}

type cancelReservationRS struct {
	baseRS
}

/********** normalization **********/

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

// toAvailabilityDays normalizes calendar days. Days without a usable date are
// dropped; a day is available when it is not blocked and has free units.
func toAvailabilityDays(propertyID string, days []calDay) []domain.AvailabilityDay {
	out := make([]domain.AvailabilityDay, 0, len(days))
	for _, d := range days {
		raw := firstNonEmpty(d.DateAttr, d.DateElem)
		date, err := domain.ParseDate(raw)
		if err != nil {
			log.Warn().Str("property", propertyID).Str("date", raw).Msg("calendar day without usable date")
			continue
		}
		units, _ := strconv.Atoi(firstNonEmpty(d.UnitsAttr, d.UnitsElem))
		out = append(out, domain.AvailabilityDay{
			Date:        date,
			IsAvailable: !parseBool(d.IsBlocked) && units > 0,
		})
	}
	return out
}

// toSeasons normalizes season rows, keeping upstream order.
func toSeasons(propertyID string, rows []season) []domain.SeasonPriceInterval {
	out := make([]domain.SeasonPriceInterval, 0, len(rows))
	for _, s := range rows {
		from, ferr := domain.ParseDate(firstNonEmpty(s.DateFromAttr, s.DateFromElem))
		to, terr := domain.ParseDate(firstNonEmpty(s.DateToAttr, s.DateToElem))
		price, perr := decimal.NewFromString(firstNonEmpty(s.Price, s.Text))
		if ferr != nil || terr != nil || perr != nil || price.IsNegative() || to.Before(from) {
			log.Warn().Str("property", propertyID).
				Str("from", s.DateFromAttr+s.DateFromElem).
				Str("to", s.DateToAttr+s.DateToElem).
				Str("price", firstNonEmpty(s.Price, s.Text)).
				Msg("invalid season row dropped")
			continue
		}
		out = append(out, domain.SeasonPriceInterval{DateFrom: from, DateTo: to, Price: price})
	}
	return out
}

func fmtDate(t time.Time) string { return domain.FormatDate(domain.DateOf(t)) }
