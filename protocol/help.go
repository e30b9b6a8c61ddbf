package protocol

// HelpText is sent verbatim in response to the HELP command.
var HelpText = []byte(`Pixelflut server, available commands:
HELP: Show this help
PX x y rrggbb: Set the pixel (x,y) to the given hexadecimal color, e.g. PX 10 10 ff0000
PX x y rrggbbaa: Set the pixel (x,y) to the given color with an explicit alpha channel, e.g. PX 10 10 ff0000ff
PX x y gg: Set the pixel (x,y) to the gray color gggggg, e.g. PX 10 10 88
PX x y: Get the color of the pixel (x,y), e.g. PX 10 10
SIZE: Get the size of the drawing surface, e.g. SIZE might return SIZE 1280 720
`)
