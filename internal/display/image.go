package display

// ImageBuffer 已解码的像素缓冲。解码本身属于外部管道，
// 本核心只关心标识与几何
type ImageBuffer struct {
	Name   string
	Width  int
	Height int
	Pix    []byte // RGBA，长度 Width*Height*4；测试/演示中允许为nil
}

// NewSolidImage 生成指定尺寸的纯色图像缓冲，测试与演示用
func NewSolidImage(name string, width, height int, c Colour) *ImageBuffer {
	pix := make([]byte, width*height*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i] = byte(c.R)
		pix[i+1] = byte(c.G)
		pix[i+2] = byte(c.B)
		pix[i+3] = 0xff
	}
	return &ImageBuffer{Name: name, Width: width, Height: height, Pix: pix}
}
