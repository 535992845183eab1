package crs

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_Canonical(t *testing.T) {
	tests := []struct {
		name string
		def  string
		want string
	}{
		{"longlat", "+proj=longlat +datum=WGS84 +no_defs", "+proj=longlat +datum=WGS84"},
		{"latlong alias", "+proj=latlong +ellps=WGS84", "+proj=longlat +datum=WGS84"},
		{"grs80", "+proj=longlat +ellps=GRS80 +towgs84=0,0,0", "+proj=longlat +datum=WGS84"},
		{"defaults dropped", "+proj=wintri +lon_0=0 +x_0=0 +y_0=0 +datum=WGS84 +units=m", "+proj=wintri +datum=WGS84"},
		{"key order", "+no_defs +lon_0=135 +datum=WGS84 +proj=wintri", "+proj=wintri +datum=WGS84 +lon_0=135"},
		{"default lat_1", "+proj=wintri +lat_1=50.45977625218981 +lon_0=135", "+proj=wintri +datum=WGS84 +lon_0=135"},
		{"sphere", "+proj=aitoff +R=6371000", "+proj=aitoff +R=6371000"},
		{"sphere a=b", "+proj=aitoff +a=6371000 +b=6371000", "+proj=aitoff +R=6371000"},
		{"legacy web mercator", "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext +no_defs", "+proj=webmerc +datum=WGS84"},
		{"lon_0 wraps", "+proj=eqc +lon_0=315", "+proj=eqc +datum=WGS84 +lon_0=-45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.def)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if d.Canonical() != tt.want {
				t.Errorf("canonical: expected %q, got %q", tt.want, d.Canonical())
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"proj=longlat",
		"+proj",
		"+datum=WGS84",
		"+proj=utm +zone=33",
		"+proj=wintri +lon_0=abc",
		"+proj=wintri +lon_0=NaN",
		"+proj=wintri +k=2",
		"+proj=longlat +datum=NAD27",
		"+proj=longlat +ellps=intl",
		"+proj=longlat +towgs84=1,2,3",
		"+proj=merc +units=km",
		"+proj=merc +lat_ts=90",
		"+proj=wintri +lon_0=10 +lon_0=20",
	}

	for _, def := range tests {
		t.Run(def, func(t *testing.T) {
			_, err := Parse(def)
			if !errors.Is(err, ErrUnknownCRS) {
				t.Fatalf("expected ErrUnknownCRS, got %v", err)
			}
			var ue *UnknownCRSError
			if !errors.As(err, &ue) {
				t.Fatalf("expected *UnknownCRSError, got %T", err)
			}
		})
	}
}

func TestDescriptor_Accessors(t *testing.T) {
	d, err := Parse("+proj=wintri +lon_0=135 +lat_1=40 +x_0=500 +datum=WGS84")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if d.Family() != FamilyWintri {
		t.Errorf("expected family wintri, got %s", d.Family())
	}
	if d.CentralMeridian() != 135 {
		t.Errorf("expected central meridian 135, got %v", d.CentralMeridian())
	}
	if v := d.Float("lat_1", 0); v != 40 {
		t.Errorf("expected lat_1 40, got %v", v)
	}
	if v := d.Float("y_0", -1); v != -1 {
		t.Errorf("expected default for unset y_0, got %v", v)
	}
	if d.IsGeographic() || d.IsSphere() {
		t.Error("expected projected WGS84 descriptor")
	}
	if d.SemiMajor() != WGS84SemiMajor {
		t.Errorf("expected WGS84 semi-major, got %v", d.SemiMajor())
	}
	if d.EPSG() != 0 {
		t.Errorf("expected no EPSG code, got %d", d.EPSG())
	}
}

func TestNormalizeLongitude(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, -180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{540, -180},
		{359, -1},
	}
	for _, tt := range tests {
		if got := NormalizeLongitude(tt.in); got != tt.want {
			t.Errorf("NormalizeLongitude(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestUnknownCRSError_Message(t *testing.T) {
	err := &UnknownCRSError{Identifier: "EPSG:99999", Reason: "unrecognized authority code"}
	if !strings.Contains(err.Error(), "EPSG:99999") {
		t.Errorf("expected identifier in message, got %q", err.Error())
	}
}
